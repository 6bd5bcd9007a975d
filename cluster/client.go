// Package cluster maintains the upstream DX cluster telnet connections. Each
// configured cluster gets one Client that logs in with the station callsign,
// runs the configured setup commands, and feeds parsed spots into a shared
// channel. Connections are supervised: a read failure schedules a reconnect
// with exponential backoff.
package cluster

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	ztelnet "github.com/ziutek/telnet"

	"gtbridge/config"
	"gtbridge/spot"
)

// loginPromptKeywords mark the server asking for a callsign. Different node
// software phrases the prompt differently.
var loginPromptKeywords = []string{"login", "call", "your call", "enter"}

const (
	dialTimeout    = 30 * time.Second
	readTimeout    = 5 * time.Minute
	loginWait      = 20 * time.Second
	commandPacing  = 500 * time.Millisecond
	initialBackoff = 5 * time.Second
	maxBackoff     = 120 * time.Second
)

// Client is one supervised upstream cluster connection.
type Client struct {
	cfg    config.ClusterConfig
	region int

	conn      *ztelnet.Conn
	reader    *bufio.Reader
	connMu    sync.Mutex
	connected bool

	spotChan  chan *spot.Spot
	shutdown  chan struct{}
	reconnect chan struct{}
	stopOnce  sync.Once

	backoff time.Duration
}

// NewClient creates a client for one upstream cluster.
func NewClient(cfg config.ClusterConfig, region int) *Client {
	return &Client{
		cfg:       cfg,
		region:    region,
		spotChan:  make(chan *spot.Spot, 100),
		shutdown:  make(chan struct{}),
		reconnect: make(chan struct{}, 1),
		backoff:   initialBackoff,
	}
}

// Connect establishes the initial connection and starts the supervision loop.
// The first dial runs synchronously so failures are reported to the caller,
// but a failed dial is still handed to the supervisor: an upstream that is
// down at startup gets retried with backoff like any later disconnect.
func (c *Client) Connect() error {
	err := c.establishConnection()
	go c.connectionSupervisor()
	if err != nil {
		c.requestReconnect(nil)
		return err
	}
	return nil
}

// GetSpotChannel returns the channel carrying parsed spots.
func (c *Client) GetSpotChannel() <-chan *spot.Spot {
	return c.spotChan
}

// IsConnected reports whether the client currently has a live connection.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// Name returns the configured cluster name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Stop closes the connection and stops the supervisor.
func (c *Client) Stop() {
	log.Printf("%s: stopping client", c.cfg.Name)
	c.stopOnce.Do(func() {
		close(c.shutdown)
	})
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Client) establishConnection() error {
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	log.Printf("%s: connecting to %s...", c.cfg.Name, addr)

	conn, err := ztelnet.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.Name, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	log.Printf("%s: connection established", c.cfg.Name)

	if err := c.login(conn); err != nil {
		conn.Close()
		c.setDisconnected()
		return fmt.Errorf("%s: login failed: %w", c.cfg.Name, err)
	}

	c.reader = bufio.NewReader(conn)
	go c.sendSetupCommands(conn)
	go c.readLoop(conn)
	return nil
}

func (c *Client) setDisconnected() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
}

// login waits for the callsign prompt and answers it. Prompts arrive without
// a newline, so this reads raw chunks and scans for the known keywords. If no
// prompt shows up within the window the callsign is sent anyway; some nodes
// accept it silently.
func (c *Client) login(conn *ztelnet.Conn) error {
	var seen strings.Builder
	deadline := time.Now().Add(loginWait)
	chunk := make([]byte, 512)

	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(chunk)
		if n > 0 {
			seen.WriteString(strings.ToLower(string(chunk[:n])))
			if containsLoginPrompt(seen.String()) {
				return c.sendLine(conn, c.cfg.Callsign)
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return err
		}
	}

	log.Printf("%s: no login prompt seen, sending callsign anyway", c.cfg.Name)
	return c.sendLine(conn, c.cfg.Callsign)
}

// containsLoginPrompt reports whether the lowercased server output so far
// looks like a callsign prompt.
func containsLoginPrompt(seen string) bool {
	for _, kw := range loginPromptKeywords {
		if strings.Contains(seen, kw) {
			return true
		}
	}
	return false
}

func (c *Client) sendLine(conn *ztelnet.Conn, line string) error {
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// sendSetupCommands paces the configured login commands out after login, then
// asks for recent spots so the cache warms up immediately.
func (c *Client) sendSetupCommands(conn *ztelnet.Conn) {
	commands := append([]string{}, c.cfg.LoginCommands...)
	commands = append(commands, "sh/dx")
	for _, cmd := range commands {
		select {
		case <-c.shutdown:
			return
		case <-time.After(commandPacing):
		}
		if err := c.sendLine(conn, cmd); err != nil {
			log.Printf("%s: failed to send %q: %v", c.cfg.Name, cmd, err)
			return
		}
		log.Printf("%s: sent %q", c.cfg.Name, cmd)
	}
}

func (c *Client) readLoop(conn *ztelnet.Conn) {
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

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if c.isShutdown() {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Quiet link. Nudge the server so intermediate devices keep
				// the session alive, then keep reading.
				if werr := c.sendLine(conn, ""); werr == nil {
					continue
				}
			}
			log.Printf("%s: read error: %v", c.cfg.Name, err)
			c.requestReconnect(err)
			return
		}
		c.handleLine(line)
	}
}

// handleLine parses one server line and forwards it when it is a spot. Other
// traffic (prompts, announcements, WWV) is ignored.
func (c *Client) handleLine(line string) {
	scrubbed := spot.ScrubLine(line)
	if scrubbed == "" {
		return
	}
	s, ok := spot.ParseClusterLine(scrubbed, c.region)
	if !ok {
		return
	}
	s.SourceNode = c.cfg.Name

	select {
	case c.spotChan <- s:
	default:
		log.Printf("%s: spot channel full, dropping spot", c.cfg.Name)
	}
}

// connectionSupervisor waits for disconnect notifications and orchestrates
// the exponential backoff reconnect attempts while honoring shutdown.
func (c *Client) connectionSupervisor() {
	for {
		select {
		case <-c.shutdown:
			return
		case <-c.reconnect:
			if c.isShutdown() {
				return
			}
			delay := c.backoff
			for {
				if c.isShutdown() {
					return
				}
				log.Printf("%s: attempting reconnect...", c.cfg.Name)
				if err := c.establishConnection(); err != nil {
					log.Printf("%s: reconnect failed: %v (retry in %s)", c.cfg.Name, err, delay)
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

func (c *Client) requestReconnect(reason error) {
	if c.isShutdown() {
		return
	}
	if reason != nil {
		log.Printf("%s: scheduling reconnect after error: %v", c.cfg.Name, reason)
	}
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}
