package wsjtx

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"gtbridge/cache"
	"gtbridge/spot"
)

// noReportSNR is the SNR reported for spots whose source carried none.
const noReportSNR = -10

// Emitter presents the spot cache to GridTracker as a set of WSJT-X
// instances, one per (band, mode). Every cycle it sends a Status and the
// cached Decodes for each instance, and it listens on the same socket for
// Reply messages coming back.
type Emitter struct {
	conn   *net.UDPConn
	deCall string
	deGrid string

	cache             *cache.Cache
	cycleInterval     time.Duration
	heartbeatInterval time.Duration
	onReply           func(Reply)

	writeMu  sync.Mutex
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// InstanceID formats the WSJT-X instance identifier for a (band, mode) pair.
func InstanceID(inst cache.Instance) string {
	return inst.Band + "-" + inst.Mode
}

// ParseInstanceID splits an instance identifier back into band and mode.
func ParseInstanceID(id string) (band, mode string, ok bool) {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// NewEmitter connects a UDP socket to the GridTracker address. onReply is
// invoked from the read goroutine for every Reply received; it may be nil.
func NewEmitter(target, deCall, deGrid string, cycleInterval, heartbeatInterval time.Duration, c *cache.Cache, onReply func(Reply)) (*Emitter, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	if cycleInterval <= 0 {
		cycleInterval = 15 * time.Second
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	return &Emitter{
		conn:              conn,
		deCall:            deCall,
		deGrid:            deGrid,
		cache:             c,
		cycleInterval:     cycleInterval,
		heartbeatInterval: heartbeatInterval,
		onReply:           onReply,
		shutdown:          make(chan struct{}),
		now:               time.Now,
	}, nil
}

// Start launches the cycle, heartbeat and reply goroutines.
func (e *Emitter) Start() {
	log.Printf("WSJT-X emitter: sending to %s as %s", e.conn.RemoteAddr(), e.deCall)
	e.wg.Add(3)
	go e.cycleLoop()
	go e.heartbeatLoop()
	go e.replyLoop()
}

// Stop shuts the emitter down and closes the socket.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		close(e.shutdown)
		e.conn.Close()
	})
	e.wg.Wait()
}

func (e *Emitter) send(data []byte) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.conn.Write(data); err != nil {
		log.Printf("WSJT-X emitter: write failed: %v", err)
	}
}

// AnnounceInstance introduces a brand new (band, mode) instance to
// GridTracker immediately with a Heartbeat and Status, so the first spot on
// a band shows up without waiting for the next cycle.
func (e *Emitter) AnnounceInstance(inst cache.Instance) {
	id := InstanceID(inst)
	log.Printf("WSJT-X emitter: announcing instance %s", id)
	e.send(EncodeHeartbeat(id))
	e.send(e.statusFor(inst))
}

// SendQSOLogged forwards a logged contact on the instance matching its band
// and mode.
func (e *Emitter) SendQSOLogged(q QSOLogged) {
	e.send(q.Encode())
}

func (e *Emitter) statusFor(inst cache.Instance) []byte {
	dial, _ := BandDialHz(inst.Band)
	return Status{
		ID:     InstanceID(inst),
		DialHz: dial,
		Mode:   inst.Mode,
		DECall: e.deCall,
		DEGrid: e.deGrid,
	}.Encode()
}

func (e *Emitter) cycleLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.EmitCycle()
		}
	}
}

// EmitCycle sends one full refresh: per live instance a Status followed by a
// Decode per cached entry.
func (e *Emitter) EmitCycle() {
	snapshot := e.cache.SnapshotByInstance()
	for inst, entries := range snapshot {
		e.send(e.statusFor(inst))
		dial, _ := BandDialHz(inst.Band)
		for _, entry := range entries {
			e.send(e.decodeFor(inst, entry.Spot, dial))
		}
	}
}

func (e *Emitter) decodeFor(inst cache.Instance, s *spot.Spot, dialHz uint64) []byte {
	var deltaFreq uint32
	if hz := s.FreqHz(); hz > int64(dialHz) {
		deltaFreq = uint32(hz - int64(dialHz))
	}
	// Spots without a report get a plausible mid-strength placeholder so
	// GridTracker does not plot them as booming 0 dB signals.
	snr := int32(noReportSNR)
	if s.HasReport {
		snr = int32(s.Report)
	}
	return Decode{
		ID:        InstanceID(inst),
		TimeMS:    e.spotTimeMS(s),
		SNR:       snr,
		DeltaFreq: deltaFreq,
		Mode:      ModeChar(s.Mode),
		Message:   CQMessage(s),
	}.Encode()
}

// CQMessage fakes the decode text GridTracker parses: a CQ from the spotted
// station, with the activity keyword and the 4-character grid when known.
func CQMessage(s *spot.Spot) string {
	parts := []string{"CQ"}
	if s.Activity == "POTA" || s.Activity == "SOTA" {
		parts = append(parts, s.Activity)
	}
	parts = append(parts, s.DXCall)
	if len(s.Grid) >= 4 {
		parts = append(parts, s.Grid[:4])
	}
	return strings.Join(parts, " ")
}

// spotTimeMS converts the spot's HHMM timestamp to milliseconds since UTC
// midnight, falling back to the current time when the field is absent.
func (e *Emitter) spotTimeMS(s *spot.Spot) uint32 {
	if len(s.TimeUTC) == 4 {
		if hhmm, err := strconv.Atoi(s.TimeUTC); err == nil {
			h, m := hhmm/100, hhmm%100
			if h < 24 && m < 60 {
				return uint32(((h*60 + m) * 60) * 1000)
			}
		}
	}
	return MidnightMS(e.now())
}

func (e *Emitter) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.emitHeartbeats()
		}
	}
}

// emitHeartbeats re-announces every instance that still has live spots. An
// instance whose spots have all expired goes silent.
func (e *Emitter) emitHeartbeats() {
	for inst := range e.cache.SnapshotByInstance() {
		e.send(EncodeHeartbeat(InstanceID(inst)))
	}
}

func (e *Emitter) replyLoop() {
	defer e.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			select {
			case <-e.shutdown:
				return
			default:
			}
			log.Printf("WSJT-X emitter: read failed: %v", err)
			return
		}
		reply, ok, err := ParseReply(buf[:n])
		if err != nil {
			log.Printf("WSJT-X emitter: discarding malformed datagram: %v", err)
			continue
		}
		if ok && e.onReply != nil {
			e.onReply(reply)
		}
	}
}
