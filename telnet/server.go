// Package telnet implements the downstream cluster feed: a small DX Spider
// style node that re-broadcasts every accepted spot to connected clients.
//
// Architecture:
//   - One reader goroutine per connected client (handleClient)
//   - One sender goroutine per client draining a bounded spot queue
//   - Non-blocking broadcast with drop-oldest backpressure per client
//   - Optional periodic CRLF keepalive for idle sessions
//
// Clients log in with their callsign, get a DX Spider greeting, and receive
// the legacy spot format until they issue SET/VE7CC to switch to CC11.
package telnet

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	ztelnet "github.com/ziutek/telnet"

	"gtbridge/internal/ratelimit"
	"gtbridge/spot"
)

const (
	defaultClientBufferSize = 100

	// loginTimeout bounds how long an unauthenticated connection may sit
	// on the callsign prompt.
	loginTimeout = 60 * time.Second
)

// Server is the multi-client telnet node. Safe for concurrent use.
type Server struct {
	port              int
	nodeCall          string // node identity, e.g. W1AW-2
	maxConnections    int
	clientBufferSize  int
	keepaliveInterval time.Duration

	listener     net.Listener
	clients      map[*Client]struct{}
	clientsMutex sync.RWMutex
	shutdown     chan struct{}
	stopOnce     sync.Once

	spotsSent    atomic.Uint64
	spotsDropped atomic.Uint64

	now func() time.Time
}

// Client is one connected telnet session.
type Client struct {
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	writeMu   sync.Mutex
	callsign  string
	address   string
	connected time.Time
	server    *Server

	cc11     atomic.Bool // CC11 format after SET/VE7CC
	prompt   atomic.Pointer[string]
	spotChan chan *spot.Spot
	done     chan struct{}
	doneOnce sync.Once

	dropLog ratelimit.Counter
}

// NewServer builds a telnet node announcing itself as nodeCall.
func NewServer(port int, nodeCall string, maxConnections, clientBufferSize int, keepalive time.Duration) *Server {
	if clientBufferSize <= 0 {
		clientBufferSize = defaultClientBufferSize
	}
	return &Server{
		port:              port,
		nodeCall:          nodeCall,
		maxConnections:    maxConnections,
		clientBufferSize:  clientBufferSize,
		keepaliveInterval: keepalive,
		clients:           make(map[*Client]struct{}),
		shutdown:          make(chan struct{}),
		now:               time.Now,
	}
}

// Start binds the listener and launches the accept and keepalive goroutines.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := listenWithReuse(addr)
	if err != nil {
		return fmt.Errorf("failed to start telnet server: %w", err)
	}
	s.listener = listener
	log.Printf("Telnet server listening on port %d as %s", s.port, s.nodeCall)

	if s.keepaliveInterval > 0 {
		go s.keepaliveLoop()
	}
	go s.acceptConnections()
	return nil
}

// Stop closes the listener and disconnects every client.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
		s.clientsMutex.Lock()
		for client := range s.clients {
			client.close()
		}
		s.clientsMutex.Unlock()
	})
}

// listenWithReuse enables SO_REUSEADDR so we can rebind quickly after a crash/exit.
// It falls back to a standard Listen when the control call fails.
func listenWithReuse(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			controlErr := c.Control(func(fd uintptr) {
				sockErr = setReuseAddr(fd)
			})
			if controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return net.Listen("tcp", addr)
	}
	return listener, nil
}

// keepaliveLoop emits periodic CRLF to all connected clients to prevent idle
// disconnects by intermediate network devices when the spot stream is quiet.
func (s *Server) keepaliveLoop() {
	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.clientsMutex.RLock()
			for client := range s.clients {
				_ = client.send("\r\n")
			}
			s.clientsMutex.RUnlock()
		}
	}
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Error accepting connection: %v", err)
				continue
			}
		}

		if s.maxConnections > 0 {
			s.clientsMutex.RLock()
			current := len(s.clients)
			s.clientsMutex.RUnlock()
			if current >= s.maxConnections {
				_, _ = conn.Write([]byte("Server full. Try again later.\r\n"))
				conn.Close()
				log.Printf("Rejected connection from %s: max connections reached (%d)", conn.RemoteAddr(), s.maxConnections)
				continue
			}
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(2 * time.Minute)
		}

		go s.handleClient(conn)
	}
}

// BroadcastSpot queues a spot for every connected, logged-in client. A full
// client queue sheds its oldest spot to make room; only a socket write
// failure disconnects a client.
func (s *Server) BroadcastSpot(sp *spot.Spot) {
	if s == nil || sp == nil {
		return
	}
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	for client := range s.clients {
		client.enqueue(sp)
	}
}

// ClientCount returns the number of logged-in clients.
func (s *Server) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// Stats returns spots delivered and spots shed by backpressure.
func (s *Server) Stats() (sent, dropped uint64) {
	return s.spotsSent.Load(), s.spotsDropped.Load()
}

func (s *Server) addClient(client *Client) {
	s.clientsMutex.Lock()
	s.clients[client] = struct{}{}
	s.clientsMutex.Unlock()
}

func (s *Server) removeClient(client *Client) {
	s.clientsMutex.Lock()
	delete(s.clients, client)
	s.clientsMutex.Unlock()
	client.close()
}

// handleClient runs the login exchange and then the command loop for one
// connection.
func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	address := conn.RemoteAddr().String()
	log.Printf("New connection from %s", address)

	tconn, err := ztelnet.NewConn(conn)
	if err != nil {
		log.Printf("Telnet: failed to wrap connection from %s: %v", address, err)
		return
	}

	client := &Client{
		conn:      conn,
		reader:    bufio.NewReader(tconn),
		writer:    bufio.NewWriter(tconn),
		address:   address,
		connected: s.now(),
		server:    s,
		spotChan:  make(chan *spot.Spot, s.clientBufferSize),
		done:      make(chan struct{}),
		dropLog:   ratelimit.NewCounter(time.Minute),
	}

	if err := client.send("login: Please enter your call: "); err != nil {
		return
	}

	conn.SetReadDeadline(s.now().Add(loginTimeout))
	line, err := client.readLine()
	if err != nil {
		log.Printf("Error reading callsign from %s: %v", address, err)
		return
	}
	conn.SetReadDeadline(time.Time{})
	callsign := spot.NormalizeCallsign(line)
	if callsign == "" {
		_ = client.send("Invalid callsign\r\n")
		return
	}
	client.callsign = callsign
	log.Printf("Client %s logged in as %s", address, callsign)

	welcome := fmt.Sprintf("Hello %s, this is %s running DX Spider\r\n%s",
		callsign, s.nodeCall, client.promptLine())
	if err := client.send(welcome); err != nil {
		return
	}

	s.addClient(client)
	defer s.removeClient(client)
	go client.senderLoop()

	for {
		line, err := client.readLine()
		if err != nil {
			log.Printf("Client %s (%s) disconnected: %v", callsign, address, err)
			return
		}
		if !s.handleCommand(client, line) {
			return
		}
	}
}

// handleCommand processes one post-login command line. It returns false when
// the session should end.
func (s *Server) handleCommand(client *Client, line string) bool {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)

	switch {
	case lower == "bye" || lower == "quit" || lower == "exit":
		_ = client.send(fmt.Sprintf("73 de %s\r\n", s.nodeCall))
		return false

	case strings.HasPrefix(lower, "echo"):
		rest := strings.TrimSpace(trimmed[len("echo"):])
		return client.send(rest+"\r\n") == nil

	case strings.HasPrefix(lower, "set/prompt"):
		// DXLab and others personalize the prompt; %M expands to the node call.
		custom := strings.TrimSpace(trimmed[len("set/prompt"):])
		custom = strings.ReplaceAll(custom, "%M", s.nodeCall)
		if custom != "" {
			prompt := custom + "\r\n"
			client.prompt.Store(&prompt)
		}
		return client.send(client.promptLine()) == nil

	case strings.HasPrefix(lower, "set/ve7cc"):
		client.cc11.Store(true)
		log.Printf("Client %s switched to CC11 format", client.callsign)
		if err := client.send("VE7CC gateway mode enabled\r\n"); err != nil {
			return false
		}
		return client.send(client.promptLine()) == nil

	default:
		// sh/dx, set/..., and anything else: acknowledge with the prompt so
		// logger auto-configuration scripts keep walking their command list.
		return client.send(client.promptLine()) == nil
	}
}

func (c *Client) promptLine() string {
	if p := c.prompt.Load(); p != nil {
		return *p
	}
	return fmt.Sprintf("%s de %s >\r\n", c.callsign, c.server.nodeCall)
}

func (c *Client) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Client) send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.WriteString(text); err != nil {
		return err
	}
	return c.writer.Flush()
}

// enqueue adds a spot to the client's queue, shedding the oldest queued spot
// when the queue is full.
func (c *Client) enqueue(sp *spot.Spot) {
	for {
		select {
		case c.spotChan <- sp:
			return
		default:
		}
		select {
		case <-c.spotChan:
			c.server.spotsDropped.Add(1)
			if total, ok := c.dropLog.Inc(); ok {
				log.Printf("Client %s: slow consumer, %d spots shed so far", c.callsign, total)
			}
		default:
		}
	}
}

// senderLoop drains the spot queue and writes each spot in the client's
// negotiated format. A write failure ends the session.
func (c *Client) senderLoop() {
	for {
		select {
		case <-c.done:
			return
		case sp := <-c.spotChan:
			var line string
			if c.cc11.Load() {
				line = FormatCC11(sp, c.server.now()) + "\r\n"
			} else {
				line = FormatLegacy(sp) + "\a\r\n"
			}
			if err := c.send(line); err != nil {
				log.Printf("Client %s: spot write failed, disconnecting: %v", c.callsign, err)
				c.conn.Close()
				return
			}
			c.server.spotsSent.Add(1)
		}
	}
}

func (c *Client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}
