// Package n1mm receives contact broadcasts from N1MM Logger+ and converts
// them to logged QSO notifications so GridTracker can mark worked stations.
// N1MM sends one XML document per UDP datagram; only contactinfo documents
// are of interest here.
package n1mm

import (
	"encoding/xml"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"gtbridge/wsjtx"
)

// contactInfo mirrors the subset of the N1MM contactinfo broadcast this
// bridge cares about. Frequencies arrive in units of 10 Hz.
type contactInfo struct {
	XMLName    xml.Name `xml:"contactinfo"`
	Timestamp  string   `xml:"timestamp"`
	MyCall     string   `xml:"mycall"`
	Call       string   `xml:"call"`
	GridSquare string   `xml:"gridsquare"`
	TXFreq     uint64   `xml:"txfreq"`
	Mode       string   `xml:"mode"`
	SNT        string   `xml:"snt"`
	RCV        string   `xml:"rcv"`
	Operator   string   `xml:"operator"`
	Comment    string   `xml:"comment"`
	Exchange1  string   `xml:"exchange1"`
}

// Listener reads N1MM UDP broadcasts and hands converted QSOs to a callback.
type Listener struct {
	port     int
	myGrid   string
	onQSO    func(wsjtx.QSOLogged)
	conn     *net.UDPConn
	shutdown chan struct{}
	stopOnce sync.Once
}

// NewListener creates a listener on the given UDP port. myGrid fills the
// logging station grid, which N1MM does not broadcast.
func NewListener(port int, myGrid string, onQSO func(wsjtx.QSOLogged)) *Listener {
	return &Listener{
		port:     port,
		myGrid:   myGrid,
		onQSO:    onQSO,
		shutdown: make(chan struct{}),
	}
}

// Start binds the UDP socket and begins reading datagrams.
func (l *Listener) Start() error {
	addr := &net.UDPAddr{Port: l.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for N1MM broadcasts: %w", err)
	}
	l.conn = conn
	log.Printf("N1MM listener on UDP port %d", l.port)
	go l.readLoop()
	return nil
}

// Stop closes the socket.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.shutdown) })
	if l.conn != nil {
		l.conn.Close()
	}
}

func (l *Listener) readLoop() {
	buf := make([]byte, 8192)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.shutdown:
				return
			default:
			}
			log.Printf("N1MM: read error: %v", err)
			return
		}
		qso, ok := parseContactInfo(buf[:n], l.myGrid)
		if !ok {
			continue
		}
		log.Printf("N1MM: logged %s on %s %s", qso.DXCall, qso.Mode, qso.When.Format("15:04"))
		l.onQSO(qso)
	}
}

// parseContactInfo decodes one datagram. Non-contactinfo documents and
// contacts without a callsign are dropped.
func parseContactInfo(data []byte, myGrid string) (wsjtx.QSOLogged, bool) {
	var ci contactInfo
	if err := xml.Unmarshal(data, &ci); err != nil {
		return wsjtx.QSOLogged{}, false
	}
	call := strings.ToUpper(strings.TrimSpace(ci.Call))
	if call == "" {
		return wsjtx.QSOLogged{}, false
	}

	when, err := time.Parse("2006-01-02 15:04:05", ci.Timestamp)
	if err != nil {
		when = time.Now().UTC()
	}

	return wsjtx.QSOLogged{
		When:       when.UTC(),
		DXCall:     call,
		DXGrid:     strings.TrimSpace(ci.GridSquare),
		TXFreqHz:   ci.TXFreq * 10,
		Mode:       strings.ToUpper(strings.TrimSpace(ci.Mode)),
		ReportSent: ci.SNT,
		ReportRecv: ci.RCV,
		MyCall:     strings.ToUpper(strings.TrimSpace(ci.MyCall)),
		MyGrid:     myGrid,
		Comments:   ci.Comment,
		Operator:   strings.ToUpper(strings.TrimSpace(ci.Operator)),
		ExchRecv:   ci.Exchange1,
	}, true
}
