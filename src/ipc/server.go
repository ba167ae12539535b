package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// Server owns the unix socket endpoint and hands accepted requests to the
// daemon event loop. Handshake and request parsing happen on per-connection
// goroutines; the event loop consumes ready connections from Next in FIFO
// order.
type Server struct {
	theme    ThemeSnapshot
	path     string
	ln       net.Listener
	incoming chan *Conn

	closeOnce sync.Once
}

// NewServer returns a server that will greet every client with theme.
func NewServer(theme ThemeSnapshot) *Server {
	return &Server{theme: theme, incoming: make(chan *Conn, 8)}
}

// Start binds the socket at path and begins accepting clients. A stale
// socket file from a dead daemon is removed first; the live instance lock is
// what protects against a second running daemon.
func (s *Server) Start(ctx context.Context, path string) error {
	if s.ln != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}

	s.ln = ln
	s.path = path
	log.Printf("ipc: listening on %s", path)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handshake(ctx, c)
	}
}

// handshakeTimeout bounds the hello + request exchange. A client that
// connects and goes silent must not pin a goroutine and fd forever. The
// deadline is cleared once the request is in hand: AwaitingInput has no
// timeout, a human may take arbitrarily long to select.
const handshakeTimeout = 3 * time.Second

// handshake validates the hello exchange and reads the connection's single
// request, then queues the connection for the event loop.
func (s *Server) handshake(ctx context.Context, c net.Conn) {
	conn := newConn(c)
	_ = c.SetDeadline(time.Now().Add(handshakeTimeout))

	hello, err := conn.readRequest()
	if err != nil {
		log.Printf("ipc: bad hello from client: %v", err)
		_ = conn.SendError(ErrKindInternal, "malformed hello")
		conn.Close()
		return
	}
	if hello.Type != TypeHello {
		_ = conn.SendError(ErrKindBadRequest, "expected hello")
		conn.Close()
		return
	}
	if hello.Version != Version {
		_ = conn.SendError(ErrKindVersionMismatch,
			fmt.Sprintf("daemon speaks protocol %d, client sent %d", Version, hello.Version))
		conn.Close()
		return
	}
	if err := conn.send(HelloOK{Type: TypeHelloOK, Version: Version, Theme: s.theme}); err != nil {
		conn.Close()
		return
	}

	req, err := conn.readRequest()
	if err != nil {
		log.Printf("ipc: malformed request: %v", err)
		_ = conn.SendError(ErrKindInternal, "malformed request")
		conn.Close()
		return
	}
	conn.req = req
	_ = c.SetDeadline(time.Time{})

	// From here on only the disconnect watchdog reads from the socket.
	go conn.watch()

	select {
	case s.incoming <- conn:
	case <-ctx.Done():
		conn.Close()
	}
}

// Next returns the next connection carrying a parsed request, or the ctx
// error.
func (s *Server) Next(ctx context.Context) (*Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn := <-s.incoming:
		return conn, nil
	}
}

// Close stops accepting clients and removes the socket file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.ln != nil {
			err = s.ln.Close()
		}
		if s.path != "" {
			_ = os.Remove(s.path)
		}
	})
	return err
}

// Conn is one accepted client connection holding exactly one request.
// Sends are safe from any goroutine; the daemon event loop is the only
// intended caller.
type Conn struct {
	c   net.Conn
	br  *bufio.Reader
	req Request

	mu sync.Mutex // serializes frame writes
	bw *bufio.Writer

	disconnected chan struct{}
	closeOnce    sync.Once
}

func newConn(c net.Conn) *Conn {
	return &Conn{
		c:            c,
		br:           bufio.NewReader(c),
		bw:           bufio.NewWriter(c),
		disconnected: make(chan struct{}),
	}
}

// Request returns the client's parsed request.
func (c *Conn) Request() Request { return c.req }

// Disconnected is closed when the peer goes away before the exchange is
// complete. The event loop uses it to cancel an in-flight session.
func (c *Conn) Disconnected() <-chan struct{} { return c.disconnected }

// watch keeps reading after the request was consumed, solely to detect the
// peer disconnecting. A well-behaved client sends nothing further.
func (c *Conn) watch() {
	for {
		if _, err := c.br.ReadByte(); err != nil {
			c.closeOnce.Do(func() {
				close(c.disconnected)
				c.c.Close()
			})
			return
		}
		// Stray bytes after the single request: protocol violation, drop them.
	}
}

func (c *Conn) readRequest() (Request, error) {
	payload, err := ReadFrame(c.br)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (c *Conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WriteFrame(c.bw, v); err != nil {
		return err
	}
	return c.bw.Flush()
}

// SendEvent delivers a session event. Errors are returned but callers may
// ignore them: a vanished client simply stops receiving.
func (c *Conn) SendEvent(ev Event) error {
	ev.Type = TypeEvent
	return c.send(ev)
}

// SendOK acknowledges a request with no payload.
func (c *Conn) SendOK() error {
	return c.send(OKReply{Type: TypeOK})
}

// SendError delivers a request-level error.
func (c *Conn) SendError(kind, message string) error {
	return c.send(ErrorReply{Type: TypeError, Kind: kind, Message: message})
}

// SendOutputs answers an outputs query.
func (c *Conn) SendOutputs(reply OutputsReply) error {
	reply.Type = TypeOutputsReply
	return c.send(reply)
}

// SendStatus answers a status query.
func (c *Conn) SendStatus(reply StatusReply) error {
	reply.Type = TypeStatusReply
	return c.send(reply)
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.disconnected)
		c.c.Close()
	})
	return nil
}
