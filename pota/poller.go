// Package pota polls the Parks on the Air API for active activators and
// feeds them into the pipeline as spots. The POTA API returns the current
// activator list rather than an event stream, so the poller tracks state per
// activator: a spot is delivered when an activator appears, changes
// frequency or mode, or when its cache entry is about to expire and needs a
// refresh.
package pota

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"gtbridge/spot"
)

const defaultBaseURL = "https://api.pota.app/spot/activator"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// apiSpot is one entry of the activator list.
type apiSpot struct {
	Activator string `json:"activator"`
	Frequency string `json:"frequency"` // kHz
	Mode      string `json:"mode"`
	Grid4     string `json:"grid4"`
	Reference string `json:"reference"`
	Comments  string `json:"comments"`
	SpotTime  string `json:"spotTime"` // 2006-01-02T15:04:05
}

type activatorState struct {
	frequency float64
	mode      string
	delivered time.Time
}

// Poller fetches the activator list on a fixed interval.
type Poller struct {
	http     *http.Client
	baseURL  string
	interval time.Duration
	region   int

	state    map[string]*activatorState
	spotChan chan *spot.Spot
	shutdown chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// RefreshInterval derives the poll interval from the cache TTL: early enough
// to refresh entries before they expire, but never hammering the API.
func RefreshInterval(ttl time.Duration) time.Duration {
	interval := ttl - 30*time.Second
	if interval < 60*time.Second {
		interval = 60 * time.Second
	}
	return interval
}

// NewPoller builds a poller refreshing ahead of the given cache TTL.
func NewPoller(ttl time.Duration, region int) *Poller {
	return &Poller{
		http:     &http.Client{Timeout: 15 * time.Second},
		baseURL:  defaultBaseURL,
		interval: RefreshInterval(ttl),
		region:   region,
		state:    make(map[string]*activatorState),
		spotChan: make(chan *spot.Spot, 100),
		shutdown: make(chan struct{}),
		now:      time.Now,
	}
}

// GetSpotChannel returns the channel carrying POTA spots.
func (p *Poller) GetSpotChannel() <-chan *spot.Spot {
	return p.spotChan
}

// Start launches the poll loop with an immediate first fetch.
func (p *Poller) Start() {
	log.Printf("POTA: polling every %s", p.interval)
	go p.loop()
}

// Stop terminates the poll loop.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	entries, err := p.fetch()
	if err != nil {
		log.Printf("POTA: fetch failed: %v", err)
		return
	}
	for _, s := range p.process(entries) {
		select {
		case p.spotChan <- s:
		default:
			log.Println("POTA: spot channel full, dropping spot")
		}
	}
}

func (p *Poller) fetch() ([]apiSpot, error) {
	req, err := http.NewRequest(http.MethodGet, p.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "gtbridge/1.0")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var entries []apiSpot
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parsing activator list: %w", err)
	}
	return entries, nil
}

// process converts the activator list into deliverable spots and updates the
// per-activator state, pruning activators that left the list.
func (p *Poller) process(entries []apiSpot) []*spot.Spot {
	now := p.now()
	seen := make(map[string]bool, len(entries))
	var out []*spot.Spot

	for _, e := range entries {
		s, ok := p.convert(e)
		if !ok {
			continue
		}
		seen[s.DXCall] = true

		st := p.state[s.DXCall]
		fresh := st == nil ||
			st.frequency != s.Frequency ||
			st.mode != s.Mode ||
			now.Sub(st.delivered) >= p.interval
		if !fresh {
			continue
		}
		p.state[s.DXCall] = &activatorState{frequency: s.Frequency, mode: s.Mode, delivered: now}
		out = append(out, s)
	}

	for call := range p.state {
		if !seen[call] {
			delete(p.state, call)
		}
	}
	return out
}

// convert maps one API entry to a spot. QRT activators and FT8/FT4
// activations are skipped; the digital chasers already see those natively.
func (p *Poller) convert(e apiSpot) (*spot.Spot, bool) {
	comments := strings.TrimSpace(e.Comments)
	if strings.Contains(strings.ToUpper(comments), "QRT") {
		return nil, false
	}
	mode := strings.ToUpper(strings.TrimSpace(e.Mode))
	if mode == "FT8" || mode == "FT4" {
		return nil, false
	}

	freq, err := strconv.ParseFloat(strings.TrimSpace(e.Frequency), 64)
	if err != nil || freq <= 0 {
		return nil, false
	}
	band := spot.FreqToBand(freq)
	if band == "" {
		return nil, false
	}
	if mode == "" {
		mode = spot.InferMode(p.region, freq)
	}

	comment := e.Reference
	if comments != "" {
		comment = strings.TrimSpace(comment + " " + comments)
	}

	s := &spot.Spot{
		DXCall:    spot.NormalizeCallsign(e.Activator),
		Spotter:   "POTA",
		Frequency: freq,
		Band:      band,
		Mode:      mode,
		Grid:      e.Grid4,
		Comment:   comment,
		TimeUTC:   timeFromSpotTime(e.SpotTime, p.now),
		Activity:  "POTA",
		Source:    spot.SourcePOTA,
	}
	if !s.IsValid() {
		return nil, false
	}
	return s, true
}

// timeFromSpotTime extracts HHMM from an ISO timestamp, falling back to the
// current UTC time.
func timeFromSpotTime(spotTime string, now func() time.Time) string {
	if len(spotTime) >= 16 {
		hhmm := spotTime[11:16]
		if len(hhmm) == 5 && hhmm[2] == ':' {
			return hhmm[:2] + hhmm[3:]
		}
	}
	return now().UTC().Format("1504")
}
