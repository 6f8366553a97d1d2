// Package link tracks the state of the network link the command listener
// depends on.
package link

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by WaitConnected when the link did not come up in
// time.
var ErrTimeout = errors.New("timed out waiting for link")

// State is the state of the link as reported by the link layer.
type State uint8

const (
	// Idle means association has not been requested.
	Idle State = iota
	// Connecting means the layer is associating or waiting for an address.
	Connecting
	// Connected means the link is up and has an address.
	Connected
	// Failed means the interface is missing or unreachable.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Layer is the underlying link association subsystem. Association happens
// asynchronously; the layer reconnects on its own after drops.
type Layer interface {
	// Connect starts associating with the given network.
	Connect(ssid, credentials string) error
	// Status returns the current link status. It must not block.
	Status() State
	// LocalAddr returns the local address, or nil if there is none.
	LocalAddr() net.IP
}

// Manager polls a Layer and reflects its state. It never pushes transitions
// of its own.
type Manager struct {
	layer  Layer
	logger *slog.Logger
	state  State
	addr   net.IP
}

// NewManager creates a new manager for layer.
func NewManager(layer Layer, logger *slog.Logger) *Manager {
	return &Manager{
		layer:  layer,
		logger: logger,
		state:  Idle,
	}
}

// BeginConnect asks the layer to associate and records the resulting status.
func (m *Manager) BeginConnect(ssid, credentials string) error {
	m.logger.Info(
		"connecting to network",
		"ssid", ssid)

	if err := m.layer.Connect(ssid, credentials); err != nil {
		return errors.Wrap(err, "failed to start link association")
	}

	m.Poll()
	return nil
}

// Poll reads the layer status once and returns it.
func (m *Manager) Poll() State {
	s := m.layer.Status()
	if s == m.state {
		return s
	}

	m.logger.Info(
		"link state changed",
		"from", m.state,
		"to", s)

	if s == Connected {
		m.addr = m.layer.LocalAddr()
		m.logger.Info(
			"link connected",
			"addr", m.addr)
	}

	m.state = s
	return s
}

// Status returns the last polled state.
func (m *Manager) Status() State { return m.state }

// Ready reports whether the last polled state is Connected.
func (m *Manager) Ready() bool { return m.state == Connected }

// Addr returns the last known local address. It is kept across drops.
func (m *Manager) Addr() net.IP { return m.addr }

// WaitConnected polls the layer every step until it reports Connected. Before
// each wait onStep is called with an alternating flag, which drives the
// connecting indicator. A timeout of zero waits until ctx is done.
func (m *Manager) WaitConnected(ctx context.Context, step, timeout time.Duration, onStep func(on bool)) error {
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	on := true
	for {
		if m.Poll() == Connected {
			return nil
		}

		if onStep != nil {
			onStep(on)
		}
		on = !on

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrTimeout
		case <-ticker.C:
		}
	}
}
