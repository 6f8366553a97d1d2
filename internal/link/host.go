package link

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ping/ping"
	"github.com/pkg/errors"
)

// HostConfig configures a HostLayer.
type HostConfig struct {
	// Interface is the name of the network interface to watch, e.g. wlan0.
	Interface string
	// Probe is an optional host that must answer an echo request for the
	// link to count as connected.
	Probe string
	// Interval is how often the interface is re-evaluated.
	Interval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// HostLayer is a Layer backed by an interface the operating system manages.
// Association and reconnection are done by the OS; the layer only observes
// the interface from a background goroutine so that Status never blocks.
type HostLayer struct {
	cfg    HostConfig
	logger *slog.Logger

	addrs func(name string) ([]net.Addr, error)
	probe func(ctx context.Context, host string, timeout time.Duration) error

	state atomic.Uint32
	addr  atomic.Value // net.IP

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Layer = (*HostLayer)(nil)

// NewHostLayer creates a layer watching cfg.Interface.
func NewHostLayer(cfg HostConfig, logger *slog.Logger) *HostLayer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &HostLayer{
		cfg:    cfg,
		logger: logger,
		addrs:  interfaceAddrs,
		probe:  pingProbe,
		done:   make(chan struct{}),
	}
}

// Connect starts watching the interface. The SSID and credentials are
// handled by the OS network manager; they are only logged here.
func (l *HostLayer) Connect(ssid, credentials string) error {
	if l.cfg.Interface == "" {
		return errors.New("no interface configured")
	}

	l.once.Do(func() {
		l.logger.Debug(
			"watching host interface",
			"interface", l.cfg.Interface,
			"ssid", ssid,
			"probe", l.cfg.Probe)

		l.state.Store(uint32(Connecting))

		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		go l.monitor(ctx)
	})

	return nil
}

// Status implements Layer.
func (l *HostLayer) Status() State {
	return State(l.state.Load())
}

// LocalAddr implements Layer.
func (l *HostLayer) LocalAddr() net.IP {
	ip, _ := l.addr.Load().(net.IP)
	return ip
}

// Close stops the monitor.
func (l *HostLayer) Close() error {
	// Waits for a concurrent Connect and keeps later ones from starting.
	l.once.Do(func() {})

	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	return nil
}

func (l *HostLayer) monitor(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		state, ip := l.evaluate(ctx)
		l.state.Store(uint32(state))
		if ip != nil {
			l.addr.Store(ip)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// evaluate maps the interface status onto a State.
func (l *HostLayer) evaluate(ctx context.Context) (State, net.IP) {
	addrs, err := l.addrs(l.cfg.Interface)
	if err != nil {
		l.logger.Debug(
			"interface unavailable",
			"interface", l.cfg.Interface,
			"err", err)
		return Failed, nil
	}

	ip := firstIPv4(addrs)
	if ip == nil {
		return Connecting, nil
	}

	if l.cfg.Probe != "" {
		if err := l.probe(ctx, l.cfg.Probe, l.cfg.ProbeTimeout); err != nil {
			l.logger.Debug(
				"link probe failed",
				"probe", l.cfg.Probe,
				"err", err)
			return Failed, ip
		}
	}

	return Connected, ip
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch a := a.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4
		}
	}
	return nil
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	if ifi.Flags&net.FlagUp == 0 {
		return nil, nil
	}
	return ifi.Addrs()
}

// pingProbe sends a single unprivileged echo request to host.
func pingProbe(ctx context.Context, host string, timeout time.Duration) error {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return errors.Wrap(err, "failed to create pinger")
	}
	pinger.SetPrivileged(false)
	pinger.Count = 1
	pinger.Timeout = timeout

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return errors.Wrap(err, "failed to ping")
	}

	if pinger.Statistics().PacketsRecv == 0 {
		return errors.Errorf("no reply from %s", host)
	}
	return nil
}

// StaticLayer is a Layer that is always connected, for wired setups where
// there is nothing to associate with.
type StaticLayer struct {
	Addr      net.IP
	connected bool
}

var _ Layer = (*StaticLayer)(nil)

// Connect implements Layer.
func (l *StaticLayer) Connect(ssid, credentials string) error {
	l.connected = true
	return nil
}

// Status implements Layer.
func (l *StaticLayer) Status() State {
	if l.connected {
		return Connected
	}
	return Idle
}

// LocalAddr implements Layer.
func (l *StaticLayer) LocalAddr() net.IP { return l.Addr }
