// Package anim renders the radial hue animation.
package anim

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"libdb.so/matrixglow/internal/command"
	"libdb.so/matrixglow/internal/geometry"
	"libdb.so/matrixglow/internal/panel"
)

// DefaultFPSWindow is the number of frames between two refresh rate
// measurements.
const DefaultFPSWindow = 100

// Params are the tunable animation parameters.
type Params struct {
	// HueStep is how far the phase advances every frame, on the 16-bit color
	// wheel.
	HueStep uint16
	// HueRange is the spread of the per-pixel offset.
	HueRange uint16
	// Mode selects how the offset is laid out.
	Mode command.Mode
	// Brightness is the HSV value used for every pixel.
	Brightness uint8
}

// Config configures an Engine.
type Config struct {
	// Defaults are the parameters used at startup and restored by RESET.
	Defaults Params
	// FPSWindow is the number of frames per refresh rate measurement.
	FPSWindow int
}

// Engine renders one frame per Tick into a panel.Panel. It is not safe for
// concurrent use; commands are staged with Apply and only take effect at the
// start of the next Tick.
type Engine struct {
	logger *slog.Logger
	panel  panel.Panel
	table  *geometry.Table
	cfg    Config

	active  Params
	pending Params
	staged  bool
	rewind  bool

	phase       uint16
	frames      int
	windowStart time.Time

	now func() time.Time
}

// NewEngine creates an engine drawing into p. The table must have been built
// for the panel's dimensions.
func NewEngine(p panel.Panel, table *geometry.Table, cfg Config, logger *slog.Logger) (*Engine, error) {
	w, h := p.Size()
	if table.Width() != w || table.Height() != h {
		return nil, errors.Errorf(
			"geometry table is %dx%d but panel is %dx%d",
			table.Width(), table.Height(), w, h)
	}

	if cfg.FPSWindow <= 0 {
		cfg.FPSWindow = DefaultFPSWindow
	}
	if cfg.Defaults.Mode == "" {
		cfg.Defaults.Mode = command.ModeRadial
	}

	return &Engine{
		logger:      logger,
		panel:       p,
		table:       table,
		cfg:         cfg,
		active:      cfg.Defaults,
		windowStart: time.Now(),
		now:         time.Now,
	}, nil
}

// Phase returns the current hue phase.
func (e *Engine) Phase() uint16 { return e.phase }

// Frames returns the frame counter of the current measurement window.
func (e *Engine) Frames() int { return e.frames }

// Params returns the parameters the next frame is going to be rendered with,
// ignoring staged changes.
func (e *Engine) Params() Params { return e.active }

// Apply stages a command. It takes effect at the next frame boundary.
func (e *Engine) Apply(cmd command.Command) {
	if !e.staged {
		e.pending = e.active
		e.staged = true
	}

	switch cmd := cmd.(type) {
	case command.HueStepCommand:
		e.pending.HueStep = cmd.Step
	case command.HueRangeCommand:
		e.pending.HueRange = cmd.Range
	case command.ModeCommand:
		e.pending.Mode = cmd.Mode
	case command.BrightnessCommand:
		e.pending.Brightness = cmd.Brightness
	case command.ResetCommand:
		e.pending = e.cfg.Defaults
		e.rewind = true
	default:
		e.logger.Warn(
			"ignoring unsupported command",
			"tag", cmd.Tag())
	}
}

// promote makes staged parameters active. It is only called between frames.
func (e *Engine) promote() {
	if e.staged {
		e.logger.Debug(
			"applying animation parameters",
			"hue_step", e.pending.HueStep,
			"hue_range", e.pending.HueRange,
			"mode", e.pending.Mode,
			"brightness", e.pending.Brightness)

		e.active = e.pending
		e.staged = false
	}
	if e.rewind {
		e.phase = 0
		e.rewind = false
	}
}

// Tick renders and presents one frame, then advances the phase.
func (e *Engine) Tick() error {
	e.promote()

	p := e.active
	w, h := e.table.Width(), e.table.Height()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hue := e.phase + e.offset(p, x, y, w)
			e.panel.WritePixel(x, y, e.panel.ColorFromHSV(hue, 0xFF, p.Brightness))
		}
	}

	if err := e.panel.Present(); err != nil {
		return errors.Wrap(err, "failed to present frame")
	}

	e.phase += p.HueStep
	e.frames++

	if e.frames >= e.cfg.FPSWindow {
		now := e.now()
		elapsed := now.Sub(e.windowStart)
		if elapsed > 0 {
			e.logger.Debug(
				"refresh rate",
				"fps", float64(e.frames)/elapsed.Seconds(),
				"frames", e.frames,
				"elapsed", elapsed)
		}
		e.frames = 0
		e.windowStart = now
	}

	return nil
}

func (e *Engine) offset(p Params, x, y, w int) uint16 {
	switch p.Mode {
	case command.ModeSolid:
		return 0
	case command.ModeSweep:
		return uint16(uint32(x) * uint32(p.HueRange) / uint32(w))
	default:
		return e.table.Offset(x, y, p.HueRange)
	}
}
