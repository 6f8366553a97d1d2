// Package listener accepts the single control connection and reads from it
// without blocking the render loop.
package listener

import (
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DefaultBufferSize is the size of the per-poll read buffer.
const DefaultBufferSize = 256

// AcceptRetryDelay is how long accepting pauses after the transport fails to
// accept.
const AcceptRetryDelay = time.Second

// State is the state of the client slot.
type State uint8

const (
	// NoClient means the slot is empty and the next poll may accept.
	NoClient State = iota
	// Open means a client is connected.
	Open
	// Closed means the client just went away; the slot is released on the
	// next poll.
	Closed
)

func (s State) String() string {
	switch s {
	case NoClient:
		return "no-client"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Client is the connection currently held by a Listener.
type Client struct {
	conn     Conn
	addr     string
	received int
	open     bool
}

// Addr returns the peer address.
func (c *Client) Addr() string { return c.addr }

// Open reports whether the client is still held.
func (c *Client) Open() bool { return c.open }

// Received returns the number of bytes read from the client so far.
func (c *Client) Received() int { return c.received }

// Listener holds at most one client. While a client is held the transport is
// not asked to accept, so later peers wait in the backlog.
type Listener struct {
	transport Transport
	logger    *slog.Logger

	client *Client
	state  State
	buf    []byte

	retryAccept time.Time
	now         func() time.Time
}

// New creates a listener on top of t. A non-positive bufSize selects
// DefaultBufferSize.
func New(t Transport, bufSize int, logger *slog.Logger) *Listener {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Listener{
		transport: t,
		logger:    logger,
		buf:       make([]byte, bufSize),
		now:       time.Now,
	}
}

// Listen starts listening on port.
func (l *Listener) Listen(port int) error {
	if err := l.transport.Listen(port); err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", port)
	}
	l.logger.Info(
		"command server running",
		"port", port)
	return nil
}

// State returns the state of the client slot.
func (l *Listener) State() State { return l.state }

// Client returns the held client, or nil.
func (l *Listener) Client() *Client { return l.client }

// PollAccept accepts a pending connection if the slot is free. It returns the
// newly accepted client, if any.
func (l *Listener) PollAccept() (*Client, bool) {
	if l.state == Closed {
		l.state = NoClient
	}
	if l.client != nil {
		return nil, false
	}

	now := l.now()
	if now.Before(l.retryAccept) {
		return nil, false
	}

	conn, err := l.transport.AcceptIfAny()
	if err != nil {
		l.logger.Warn(
			"failed to accept client",
			"err", err,
			"retry_in", AcceptRetryDelay)
		l.retryAccept = now.Add(AcceptRetryDelay)
		return nil, false
	}
	if conn == nil {
		return nil, false
	}

	l.client = &Client{
		conn: conn,
		addr: conn.RemoteAddr(),
		open: true,
	}
	l.state = Open

	l.logger.Info(
		"client connected",
		"addr", l.client.addr)

	return l.client, true
}

// Poll accepts a client if none is held and returns the bytes that are
// available from the held client. The returned slice is only valid until the
// next call.
func (l *Listener) Poll() []byte {
	l.PollAccept()

	c := l.client
	if c == nil {
		return nil
	}

	if !c.conn.Connected() {
		l.release("connection lost")
		return nil
	}

	n, err := c.conn.ReadAvailable(l.buf)
	c.received += n

	if err != nil {
		reason := "read error"
		if errors.Is(err, io.EOF) {
			reason = "remote closed"
		} else {
			l.logger.Warn(
				"failed to read from client",
				"addr", c.addr,
				"err", err)
		}
		l.release(reason)
	}

	if n == 0 {
		return nil
	}
	return l.buf[:n]
}

// Disconnect drops the held client, if any.
func (l *Listener) Disconnect() {
	if l.client != nil {
		l.release("disconnected")
	}
}

// Close drops the client and stops listening.
func (l *Listener) Close() error {
	l.Disconnect()
	return l.transport.Close()
}

func (l *Listener) release(reason string) {
	c := l.client

	if err := c.conn.Close(); err != nil {
		l.logger.Debug(
			"failed to close client connection",
			"addr", c.addr,
			"err", err)
	}

	l.logger.Info(
		"client disconnected",
		"addr", c.addr,
		"reason", reason,
		"received", c.received)

	c.open = false
	l.client = nil
	l.state = Closed
}
