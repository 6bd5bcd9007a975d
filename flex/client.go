// Package flex drives a FlexRadio through the SmartSDR TCP API so a double
// click in GridTracker tunes the radio to the spotted station. The client
// subscribes to slice status updates, tracks every slice's frequency and
// mode, and picks a compatible slice to retune when a tune request arrives.
//
// SmartSDR wire protocol (port 4992, line oriented):
//
//	client sends:  C<seq>|<command>
//	replies:       R<seq>|<hex status>|<message>
//	status pushes: S<handle>|slice <n> key=value key=value ...
package flex

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"gtbridge/spot"
)

const (
	dialTimeout    = 10 * time.Second
	initialBackoff = 5 * time.Second
	maxBackoff     = 60 * time.Second
)

// compatibleModes maps a spot mode to the SDR demodulator modes a slice may
// already be in and still count as usable for that spot.
var compatibleModes = map[string][]string{
	"CW":   {"CW"},
	"SSB":  {"USB", "LSB"},
	"FT8":  {"DIGU", "DIGL"},
	"FT4":  {"DIGU", "DIGL"},
	"DATA": {"DIGU", "DIGL"},
	"RTTY": {"DIGU", "DIGL", "RTTY"},
}

// Client is a supervised SmartSDR API connection.
type Client struct {
	host  string
	port  int
	slice int // dedicated slice index, -1 selects by band and mode

	conn      net.Conn
	connMu    sync.Mutex
	connected bool
	seq       int

	slicesMu sync.Mutex
	slices   map[int]map[string]string

	shutdown  chan struct{}
	reconnect chan struct{}
	stopOnce  sync.Once
}

// NewClient creates a SmartSDR client. slice -1 enables automatic slice
// selection.
func NewClient(host string, port, slice int) *Client {
	return &Client{
		host:      host,
		port:      port,
		slice:     slice,
		slices:    make(map[int]map[string]string),
		shutdown:  make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}
}

// Connect establishes the initial connection and starts the supervision loop.
func (c *Client) Connect() error {
	if err := c.establishConnection(); err != nil {
		return err
	}
	go c.connectionSupervisor()
	return nil
}

// IsConnected reports whether the API connection is live.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// Stop closes the connection and stops the supervisor.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.shutdown) })
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Client) establishConnection() error {
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
	log.Printf("FlexRadio: connecting to %s...", addr)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to FlexRadio: %w", err)
	}

	reader := bufio.NewReader(conn)

	// The radio greets with a version line and a handle line before any
	// commands are accepted.
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		banner, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return fmt.Errorf("reading FlexRadio banner: %w", err)
		}
		log.Printf("FlexRadio: %s", strings.TrimSpace(banner))
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.slicesMu.Lock()
	c.slices = make(map[int]map[string]string)
	c.slicesMu.Unlock()

	if err := c.sendCommand("sub slice all"); err != nil {
		conn.Close()
		c.setDisconnected()
		return err
	}

	go c.readLoop(conn, reader)
	return nil
}

func (c *Client) setDisconnected() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
}

func (c *Client) sendCommand(cmd string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("FlexRadio not connected")
	}
	c.seq++
	_, err := fmt.Fprintf(c.conn, "C%d|%s\n", c.seq, cmd)
	return err
}

func (c *Client) readLoop(conn net.Conn, reader *bufio.Reader) {
	defer func() {
		c.setDisconnected()
		conn.Close()
	}()

	for {
		select {
		case <-c.shutdown:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		line, err := reader.ReadString('\n')
		if err != nil {
			if c.isShutdown() {
				return
			}
			log.Printf("FlexRadio: read error: %v", err)
			c.requestReconnect()
			return
		}
		c.handleLine(strings.TrimSpace(line))
	}
}

// handleLine dispatches one protocol line. Only slice status pushes and
// error replies matter.
func (c *Client) handleLine(line string) {
	if line == "" {
		return
	}
	switch line[0] {
	case 'S':
		if idx, kv, ok := parseSliceStatus(line); ok {
			c.applySliceStatus(idx, kv)
		}
	case 'R':
		if code, msg, ok := parseReply(line); ok && code != 0 {
			log.Printf("FlexRadio: command failed (0x%08X): %s", code, msg)
		}
	}
}

// parseSliceStatus parses "S<handle>|slice <n> k=v k=v ..." lines.
func parseSliceStatus(line string) (int, map[string]string, bool) {
	_, rest, found := strings.Cut(line, "|")
	if !found || !strings.HasPrefix(rest, "slice ") {
		return 0, nil, false
	}
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return 0, nil, false
	}
	idx, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, nil, false
	}
	kv := make(map[string]string, len(fields)-2)
	for _, f := range fields[2:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			kv[k] = v
		}
	}
	return idx, kv, true
}

// parseReply parses "R<seq>|<hex>|<message>" lines.
func parseReply(line string) (uint64, string, bool) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 2 {
		return 0, "", false
	}
	code, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return 0, "", false
	}
	msg := ""
	if len(parts) == 3 {
		msg = parts[2]
	}
	return code, msg, true
}

func (c *Client) applySliceStatus(idx int, kv map[string]string) {
	c.slicesMu.Lock()
	defer c.slicesMu.Unlock()

	if kv["in_use"] == "0" {
		delete(c.slices, idx)
		return
	}
	slice, ok := c.slices[idx]
	if !ok {
		slice = make(map[string]string)
		c.slices[idx] = slice
	}
	for k, v := range kv {
		slice[k] = v
	}
}

// Tune retunes a slice to the spot. With a dedicated slice configured that
// slice is always used; otherwise the first slice already on the right band
// in a compatible mode wins.
func (c *Client) Tune(s *spot.Spot) error {
	idx := c.slice
	if idx < 0 {
		found, ok := c.findSlice(s.Band, s.Mode)
		if !ok {
			return fmt.Errorf("no slice on %s compatible with %s", s.Band, s.Mode)
		}
		idx = found
	}

	mhz := s.Frequency / 1000.0
	if err := c.sendCommand(fmt.Sprintf("slice t %d %.6f", idx, mhz)); err != nil {
		return err
	}
	mode := sdrMode(s.Mode, s.Frequency)
	if err := c.sendCommand(fmt.Sprintf("slice set %d mode=%s", idx, mode)); err != nil {
		return err
	}
	log.Printf("FlexRadio: slice %d tuned to %.4f MHz %s for %s", idx, mhz, mode, s.DXCall)
	return nil
}

// findSlice returns the index of a slice whose current frequency sits on the
// requested band and whose demodulator is compatible with the mode.
func (c *Client) findSlice(band, mode string) (int, bool) {
	compatible := compatibleModes[mode]

	c.slicesMu.Lock()
	defer c.slicesMu.Unlock()
	for idx, slice := range c.slices {
		mhz, err := strconv.ParseFloat(slice["RF_frequency"], 64)
		if err != nil {
			continue
		}
		if spot.FreqToBand(mhz*1000) != band {
			continue
		}
		if len(compatible) == 0 {
			return idx, true
		}
		sliceMode := strings.ToUpper(slice["mode"])
		for _, m := range compatible {
			if sliceMode == m {
				return idx, true
			}
		}
	}
	return 0, false
}

// sdrMode picks the demodulator for a spot mode. Phone sideband follows
// convention: LSB below 10 MHz, USB above, with 60m always USB.
func sdrMode(mode string, freqKHz float64) string {
	switch mode {
	case "CW":
		return "CW"
	case "RTTY":
		return "RTTY"
	case "FT8", "FT4", "DATA":
		return "DIGU"
	case "SSB":
		if freqKHz >= 5000 && freqKHz < 5500 {
			return "USB"
		}
		if freqKHz < 10000 {
			return "LSB"
		}
		return "USB"
	default:
		return "USB"
	}
}

func (c *Client) connectionSupervisor() {
	for {
		select {
		case <-c.shutdown:
			return
		case <-c.reconnect:
			if c.isShutdown() {
				return
			}
			delay := initialBackoff
			for {
				if c.isShutdown() {
					return
				}
				log.Println("FlexRadio: attempting reconnect...")
				if err := c.establishConnection(); err != nil {
					log.Printf("FlexRadio: reconnect failed: %v (retry in %s)", err, delay)
					timer := time.NewTimer(delay)
					select {
					case <-timer.C:
					case <-c.shutdown:
						timer.Stop()
						return
					}
					delay *= 2
					if delay > maxBackoff {
						delay = maxBackoff
					}
					continue
				}
				break
			}
		}
	}
}

func (c *Client) isShutdown() bool {
	select {
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

func (c *Client) requestReconnect() {
	if c.isShutdown() {
		return
	}
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}
