package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrNotRunning means the daemon socket is absent or refuses connections.
var ErrNotRunning = errors.New("capitd is not running")

// ErrDisconnected means the daemon went away before a terminal event. The
// outcome of the capture is unknown: the file may or may not have been
// written.
var ErrDisconnected = errors.New("connection lost before a terminal event")

const dialTimeout = 2 * time.Second

// Client is one client-side exchange: connect, handshake, one request, then
// a stream of replies.
type Client struct {
	c     net.Conn
	br    *bufio.Reader
	bw    *bufio.Writer
	theme ThemeSnapshot
}

// Dial connects to the daemon socket and performs the version handshake.
// An unreachable socket maps to ErrNotRunning.
func Dial(socketPath string) (*Client, error) {
	c, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w (socket %s)", ErrNotRunning, socketPath)
	}

	cl := &Client{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
	if err := cl.hello(); err != nil {
		c.Close()
		return nil, err
	}
	return cl, nil
}

func (cl *Client) hello() error {
	if err := cl.write(Request{Type: TypeHello, Version: Version}); err != nil {
		return fmt.Errorf("ipc: send hello: %w", err)
	}
	msg, err := cl.Recv()
	if err != nil {
		return fmt.Errorf("ipc: handshake: %w", err)
	}
	switch m := msg.(type) {
	case *HelloOK:
		cl.theme = m.Theme
		return nil
	case *ErrorReply:
		return fmt.Errorf("ipc: handshake rejected: %s", m.Message)
	}
	return fmt.Errorf("ipc: unexpected handshake reply %T", msg)
}

// Theme returns the daemon's theme snapshot received at handshake.
func (cl *Client) Theme() ThemeSnapshot { return cl.theme }

// Send transmits the connection's single request.
func (cl *Client) Send(req Request) error {
	return cl.write(req)
}

func (cl *Client) write(v any) error {
	if err := WriteFrame(cl.bw, v); err != nil {
		return err
	}
	return cl.bw.Flush()
}

// Recv blocks for the next daemon message. Connection loss maps to
// ErrDisconnected so callers can report the unknown-outcome case distinctly.
func (cl *Client) Recv() (any, error) {
	payload, err := ReadFrame(cl.br)
	if err != nil {
		if isDisconnect(err) {
			return nil, ErrDisconnected
		}
		return nil, err
	}
	return DecodeServerMessage(payload)
}

// isDisconnect reports whether err means the peer went away, including an
// abrupt daemon death surfacing as a connection reset rather than EOF.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Close releases the connection.
func (cl *Client) Close() error { return cl.c.Close() }
