package ledport

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libdb.so/matrixglow/internal/led"
	"libdb.so/matrixglow/ledserial"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// controller is the board side of a piped serial line.
type controller struct {
	conn    net.Conn
	packets chan ledserial.IncomingPacket
}

func newController(t *testing.T, width, height int) (*controller, net.Conn) {
	host, board := net.Pipe()

	c := &controller{
		conn:    board,
		packets: make(chan ledserial.IncomingPacket, 16),
	}

	go func() {
		ctx := ledserial.ReadContext{Width: uint16(width), Height: uint16(height)}
		for {
			p, err := ledserial.ReadIncomingPacket(board, ctx)
			if err != nil {
				close(c.packets)
				return
			}
			c.packets <- p
		}
	}()

	t.Cleanup(func() { board.Close() })
	return c, host
}

func (c *controller) next(t *testing.T) ledserial.IncomingPacket {
	t.Helper()
	select {
	case p, ok := <-c.packets:
		require.True(t, ok, "controller stopped reading")
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func (c *controller) send(t *testing.T, p ledserial.OutgoingPacket) {
	t.Helper()
	require.NoError(t, ledserial.WriteOutgoingPacket(c.conn, p))
}

func TestOutputInitializesController(t *testing.T) {
	c, host := newController(t, 4, 2)

	o := New(Config{BitDepth: 5}, discard)

	errc := make(chan error, 1)
	go func() { errc <- o.Attach(host, 4, 2) }()

	assert.Equal(t, ledserial.InitializePacket{Width: 4, Height: 2, BitDepth: 5}, c.next(t))
	assert.Equal(t, ledserial.ClearPacket{}, c.next(t))
	require.NoError(t, <-errc)

	frame := led.NewFrame(4, 2)
	frame.Set(0, 0, led.RGBColor{0xFF, 0x00, 0x00})
	frame.Set(3, 1, led.RGBColor{0x00, 0x00, 0xFF})

	go func() { errc <- o.Show(frame) }()

	p := c.next(t)
	require.NoError(t, <-errc)

	set, ok := p.(ledserial.SetPacket)
	require.True(t, ok, "got %T", p)
	require.Len(t, set.Pix, 4*2*3)
	assert.Equal(t, []uint8{0xFF, 0x00, 0x00}, set.Pix[:3])
	assert.Equal(t, []uint8{0x00, 0x00, 0xFF}, set.Pix[len(set.Pix)-3:])

	// Acks and logs are informational.
	c.send(t, ledserial.AckPacket{IncomingPacketType: ledserial.TypeSetPacket})
	c.send(t, ledserial.LogPacket{Message: "ok"})
	assert.NoError(t, o.Err())

	require.NoError(t, o.Close())
}

func TestOutputControllerError(t *testing.T) {
	c, host := newController(t, 2, 2)

	o := New(Config{BitDepth: 8}, discard)

	errc := make(chan error, 1)
	go func() { errc <- o.Attach(host, 2, 2) }()
	c.next(t)
	c.next(t)
	require.NoError(t, <-errc)

	c.send(t, ledserial.ErrorPacket{Message: "frame underrun"})

	require.Eventually(t, func() bool {
		return o.Err() != nil
	}, 2*time.Second, time.Millisecond)

	err := o.Show(led.NewFrame(2, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame underrun")

	// The first fault sticks.
	c.send(t, ledserial.PanicPacket{})
	assert.Contains(t, o.Err().Error(), "frame underrun")

	require.NoError(t, o.Close())
}

func TestOutputTooLarge(t *testing.T) {
	_, host := newController(t, 1, 1)

	o := New(Config{BitDepth: 8}, discard)
	assert.Error(t, o.Attach(host, 0x10000, 1))
}

func TestOutputCloseUnopened(t *testing.T) {
	o := New(Config{}, discard)
	assert.NoError(t, o.Close())
}
