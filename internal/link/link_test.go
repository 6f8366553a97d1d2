package link

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedLayer reports the given states in order, then repeats the last.
type scriptedLayer struct {
	states     []State
	polls      int
	addr       net.IP
	connectErr error
	ssid       string
}

func (l *scriptedLayer) Connect(ssid, credentials string) error {
	l.ssid = ssid
	return l.connectErr
}

func (l *scriptedLayer) Status() State {
	i := l.polls
	if i >= len(l.states) {
		i = len(l.states) - 1
	}
	l.polls++
	return l.states[i]
}

func (l *scriptedLayer) LocalAddr() net.IP { return l.addr }

func TestManagerPollTransitions(t *testing.T) {
	layer := &scriptedLayer{
		states: []State{Connecting, Connected, Failed, Connected},
		addr:   net.IPv4(192, 168, 1, 50),
	}
	m := NewManager(layer, discard)
	assert.Equal(t, Idle, m.Status())

	require.NoError(t, m.BeginConnect("The Coven", "secret"))
	assert.Equal(t, "The Coven", layer.ssid)
	assert.Equal(t, Connecting, m.Status())
	assert.False(t, m.Ready())
	assert.Nil(t, m.Addr())

	assert.Equal(t, Connected, m.Poll())
	assert.True(t, m.Ready())
	assert.True(t, m.Addr().Equal(net.IPv4(192, 168, 1, 50)))

	assert.Equal(t, Failed, m.Poll())
	assert.False(t, m.Ready())
	assert.NotNil(t, m.Addr(), "last known address is kept")

	assert.Equal(t, Connected, m.Poll())
	assert.True(t, m.Ready())
}

func TestManagerBeginConnectError(t *testing.T) {
	layer := &scriptedLayer{
		states:     []State{Idle},
		connectErr: errors.New("radio off"),
	}
	m := NewManager(layer, discard)

	assert.Error(t, m.BeginConnect("net", "pass"))
	assert.Equal(t, Idle, m.Status())
}

func TestWaitConnected(t *testing.T) {
	layer := &scriptedLayer{
		states: []State{Connecting, Connecting, Connecting, Connected},
	}
	m := NewManager(layer, discard)

	var blinks []bool
	err := m.WaitConnected(context.Background(), time.Millisecond, 0, func(on bool) {
		blinks = append(blinks, on)
	})
	require.NoError(t, err)

	assert.Equal(t, Connected, m.Status())
	assert.Equal(t, []bool{true, false, true}, blinks)
}

func TestWaitConnectedTimeout(t *testing.T) {
	layer := &scriptedLayer{states: []State{Connecting}}
	m := NewManager(layer, discard)

	err := m.WaitConnected(context.Background(), time.Millisecond, 20*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Greater(t, layer.polls, 1, "status is polled repeatedly, not waited on once")
}

func TestWaitConnectedCanceled(t *testing.T) {
	layer := &scriptedLayer{states: []State{Failed}}
	m := NewManager(layer, discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WaitConnected(ctx, time.Hour, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, m.Status())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "State(9)", State(9).String())
}
