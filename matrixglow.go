// Package matrixglow drives an RGB LED matrix with an animated radial hue
// field that can be tuned at runtime over a single TCP connection.
package matrixglow

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/matrixglow/internal/anim"
	"libdb.so/matrixglow/internal/command"
	"libdb.so/matrixglow/internal/geometry"
	"libdb.so/matrixglow/internal/indicator"
	"libdb.so/matrixglow/internal/link"
	"libdb.so/matrixglow/internal/listener"
	"libdb.so/matrixglow/internal/output/ledport"
	"libdb.so/matrixglow/internal/output/nrzspi"
	"libdb.so/matrixglow/internal/output/termview"
	"libdb.so/matrixglow/internal/output/webview"
	"libdb.so/matrixglow/internal/panel"
	"periph.io/x/conn/v3/physic"
)

// DefaultListenRetryDelay is how long the daemon waits before retrying a
// failed listen.
const DefaultListenRetryDelay = time.Second

// Hardware is the set of collaborators the daemon drives.
type Hardware struct {
	Panel     panel.Panel
	Link      link.Layer
	Transport listener.Transport
	Indicator indicator.Indicator
}

// OpenHardware builds the collaborators described by cfg. onQuit is called
// when an interactive output asks the process to stop.
func OpenHardware(cfg *Config, logger *slog.Logger, onQuit func()) (*Hardware, error) {
	var out panel.Output

	pc := cfg.Panel
	switch pc.Output {
	case SerialOutput:
		out = ledport.New(ledport.Config{
			Device:   pc.Device,
			Baud:     pc.Baud,
			BitDepth: pc.BitDepth,
		}, logger.With("component", "ledport"))
	case SPIOutput:
		out = nrzspi.New(nrzspi.Config{
			Port:       pc.SPIPort,
			Freq:       physic.Frequency(pc.SPIFreqKHz) * physic.KiloHertz,
			Serpentine: pc.Serpentine,
		}, logger.With("component", "nrzspi"))
	case TermOutput:
		out = termview.New(nil, onQuit, logger.With("component", "termview"))
	case WebOutput:
		out = webview.New(pc.WebAddr, logger.With("component", "webview"))
	default:
		return nil, errors.Errorf("unknown panel output %q", pc.Output)
	}

	hw := &Hardware{
		Panel: panel.NewMatrix(out),
		Transport: &listener.TCPTransport{
			Host:        cfg.Listener.Host,
			PollTimeout: time.Duration(cfg.Listener.PollTimeout),
		},
		Indicator: indicator.Nop{},
	}

	switch cfg.Link.Kind {
	case HostLink:
		hw.Link = link.NewHostLayer(link.HostConfig{
			Interface:    cfg.Link.Interface,
			Probe:        cfg.Link.Probe,
			Interval:     time.Duration(cfg.Link.CheckInterval),
			ProbeTimeout: time.Duration(cfg.Link.ProbeTimeout),
		}, logger.With("component", "link"))
	case StaticLink:
		hw.Link = &link.StaticLayer{Addr: net.ParseIP(cfg.Link.Address)}
	default:
		return nil, errors.Errorf("unknown link kind %q", cfg.Link.Kind)
	}

	if cfg.Link.StatusPin != "" {
		gpio, err := indicator.OpenGPIO(cfg.Link.StatusPin)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open status light")
		}
		hw.Indicator = gpio
	}

	return hw, nil
}

// Daemon is the main matrixglow daemon.
type Daemon struct {
	cfg    *Config
	hw     *Hardware
	logger *slog.Logger

	engine   *anim.Engine
	link     *link.Manager
	listener *listener.Listener
	parser   *command.Parser

	listenRetryDelay time.Duration
	now              func() time.Time
}

// NewDaemon creates a new matrixglow daemon. The daemon takes ownership of
// the hardware.
func NewDaemon(cfg *Config, hw *Hardware, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	if hw.Indicator == nil {
		hw.Indicator = indicator.Nop{}
	}

	return &Daemon{
		cfg:              cfg,
		hw:               hw,
		logger:           logger,
		listenRetryDelay: DefaultListenRetryDelay,
		now:              time.Now,
	}, nil
}

// Run starts the daemon. It blocks until the given context is canceled or
// the panel fails. A panel that cannot be initialized is never presented.
func (d *Daemon) Run(ctx context.Context) error {
	pc := d.cfg.Panel
	if err := d.hw.Panel.Initialize(pc.Width, pc.Height, pc.BitDepth); err != nil {
		return errors.Wrap(err, "failed to initialize panel")
	}
	defer func() {
		if err := d.hw.Panel.Close(); err != nil {
			d.logger.Warn(
				"failed to close panel",
				"err", err)
		}
	}()

	if err := d.setup(); err != nil {
		return err
	}
	defer d.listener.Close()

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		<-ctx.Done()
		d.logger.Debug("stopping link layer")
		if c, ok := d.hw.Link.(io.Closer); ok {
			if err := c.Close(); err != nil {
				return errors.Wrap(err, "failed to stop link layer")
			}
		}
		return ctx.Err()
	})
	errg.Go(func() error {
		if err := d.connect(ctx); err != nil {
			return err
		}
		return d.mainLoop(ctx)
	})

	return errg.Wait()
}

func (d *Daemon) setup() error {
	pc := d.cfg.Panel
	ac := d.cfg.Animation

	table, err := geometry.Build(pc.Width, pc.Height)
	if err != nil {
		return errors.Wrap(err, "failed to build geometry table")
	}

	d.engine, err = anim.NewEngine(d.hw.Panel, table, anim.Config{
		Defaults: anim.Params{
			HueStep:    ac.HueStep,
			HueRange:   ac.HueRange,
			Mode:       ac.Mode,
			Brightness: ac.Brightness,
		},
		FPSWindow: ac.FPSWindow,
	}, d.logger.With("component", "anim"))
	if err != nil {
		return errors.Wrap(err, "failed to create animation engine")
	}

	d.link = link.NewManager(d.hw.Link, d.logger.With("component", "link"))
	d.listener = listener.New(
		d.hw.Transport,
		d.cfg.Listener.BufferSize,
		d.logger.With("component", "listener"))
	d.parser = command.NewParser(
		d.cfg.Listener.MaxLine,
		d.logger.With("component", "parser"))

	return nil
}

// connect starts link association and shows the connecting pattern until the
// link is up. A link that fails to come up in time is not fatal; the
// animation runs and commands are accepted once the link appears.
func (d *Daemon) connect(ctx context.Context) error {
	lc := d.cfg.Link

	if err := d.link.BeginConnect(lc.SSID, lc.Credentials); err != nil {
		d.logger.Warn(
			"failed to start link association, continuing without network",
			"err", err)
		return nil
	}

	pc := d.cfg.Panel
	ac := d.cfg.Animation
	pattern := anim.NewConnecting(pc.Width, pc.Height, ac.ConnectingText, ac.ConnectingColor)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var drawErr error
	err := d.link.WaitConnected(
		waitCtx,
		time.Duration(lc.PollInterval),
		time.Duration(lc.ConnectTimeout),
		func(on bool) {
			d.hw.Indicator.Set(on)
			if err := pattern.Draw(d.hw.Panel, on); err != nil {
				drawErr = err
				cancel()
			}
		},
	)

	switch {
	case drawErr != nil:
		return drawErr
	case errors.Is(err, link.ErrTimeout):
		d.logger.Warn(
			"link did not come up in time, starting without network",
			"timeout", time.Duration(lc.ConnectTimeout),
			"state", d.link.Status())
		d.hw.Indicator.Set(false)
		return nil
	case err != nil:
		return err
	}

	// The light only blinks while connecting.
	d.hw.Indicator.Set(false)

	d.logger.Info(
		"network ready",
		"addr", d.link.Addr())
	return nil
}

func (d *Daemon) mainLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.cfg.FrameDelay))
	defer ticker.Stop()

	n := &network{d: d}

	for {
		n.poll()

		if err := d.engine.Tick(); err != nil {
			return errors.Wrap(err, "failed to render frame")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// network is the per-frame networking step of the main loop.
type network struct {
	d *Daemon

	listening   bool
	retryListen time.Time
	cmds        []command.Command
}

func (n *network) poll() {
	d := n.d

	d.link.Poll()
	if !d.link.Ready() {
		if d.listener.Client() != nil {
			d.listener.Disconnect()
			d.parser.Reset()
		}
		return
	}

	if !n.listening {
		now := d.now()
		if now.Before(n.retryListen) {
			return
		}
		if err := d.listener.Listen(d.cfg.Listener.Port); err != nil {
			d.logger.Warn(
				"failed to start command server",
				"err", err,
				"retry_in", d.listenRetryDelay)
			n.retryListen = now.Add(d.listenRetryDelay)
			return
		}
		n.listening = true
	}

	n.cmds = d.parser.Feed(n.cmds[:0], d.listener.Poll())
	for _, cmd := range n.cmds {
		d.logger.Debug(
			"applying command",
			"command", cmd.Tag())
		d.engine.Apply(cmd)
	}

	if d.listener.State() == listener.Closed {
		// Partial lines never carry over to the next client.
		d.parser.Reset()
	}
}
