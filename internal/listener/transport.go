package listener

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// DefaultPollTimeout bounds how long a single accept or read poll may wait on
// the socket.
const DefaultPollTimeout = time.Millisecond

// Conn is an accepted connection that can be read without blocking.
type Conn interface {
	// ReadAvailable reads whatever is pending into p. It returns 0 and a nil
	// error when nothing is pending, and io.EOF once the peer has closed.
	ReadAvailable(p []byte) (int, error)
	// Connected reports whether the connection is still usable.
	Connected() bool
	// RemoteAddr returns the peer address.
	RemoteAddr() string
	// Close closes the connection.
	Close() error
}

// Transport is the socket layer underneath a Listener.
type Transport interface {
	// Listen starts listening on port.
	Listen(port int) error
	// AcceptIfAny accepts one pending connection. It returns nil and a nil
	// error when nothing is pending.
	AcceptIfAny() (Conn, error)
	// Close stops listening.
	Close() error
}

// TCPTransport is a Transport over TCP. Accepts and reads are polled with a
// short socket deadline, so no call waits longer than PollTimeout. A
// Listener makes at most one accept and one read per Poll, which bounds a
// poll to twice PollTimeout; the frame delay must stay well above that.
type TCPTransport struct {
	// Host is the address to bind to. Empty means all addresses.
	Host string
	// PollTimeout bounds each poll. Zero means DefaultPollTimeout.
	PollTimeout time.Duration

	ln *net.TCPListener
}

var _ Transport = (*TCPTransport)(nil)

// Listen implements Transport.
func (t *TCPTransport) Listen(port int) error {
	addr := &net.TCPAddr{Port: port}
	if t.Host != "" {
		ip := net.ParseIP(t.Host)
		if ip == nil {
			return errors.Errorf("invalid listen host %q", t.Host)
		}
		addr.IP = ip
	}

	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	t.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (t *TCPTransport) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// AcceptIfAny implements Transport.
func (t *TCPTransport) AcceptIfAny() (Conn, error) {
	if t.ln == nil {
		return nil, errors.New("not listening")
	}

	if err := t.ln.SetDeadline(time.Now().Add(t.pollTimeout())); err != nil {
		return nil, errors.Wrap(err, "failed to set accept deadline")
	}

	conn, err := t.ln.AcceptTCP()
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to accept")
	}

	return &tcpConn{conn: conn, timeout: t.pollTimeout()}, nil
}

// Close implements Transport.
func (t *TCPTransport) Close() error {
	if t.ln == nil {
		return nil
	}
	err := t.ln.Close()
	t.ln = nil
	return err
}

func (t *TCPTransport) pollTimeout() time.Duration {
	if t.PollTimeout > 0 {
		return t.PollTimeout
	}
	return DefaultPollTimeout
}

type tcpConn struct {
	conn    *net.TCPConn
	timeout time.Duration
	broken  bool
}

func (c *tcpConn) ReadAvailable(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		c.broken = true
		return 0, errors.Wrap(err, "failed to set read deadline")
	}

	n, err := c.conn.Read(p)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		c.broken = true
	}
	return n, err
}

func (c *tcpConn) Connected() bool { return !c.broken }

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *tcpConn) Close() error {
	c.broken = true
	return c.conn.Close()
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
