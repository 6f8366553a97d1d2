// Package termview previews the matrix in a terminal. Each cell shows two
// pixel rows with an upper half block: the foreground is the top pixel and
// the background is the bottom one.
package termview

import (
	"log/slog"

	"github.com/gdamore/tcell/v2"
	"github.com/pkg/errors"
	"libdb.so/matrixglow/internal/led"
	"libdb.so/matrixglow/internal/panel"
)

const halfBlock = '▀'

// Output is a panel.Output drawing onto a tcell screen.
type Output struct {
	screen tcell.Screen
	logger *slog.Logger
	onQuit func()
	done   chan struct{}
}

var _ panel.Output = (*Output)(nil)

// New creates a terminal output. If screen is nil, the controlling terminal
// is used. onQuit is called from the event goroutine when the user presses
// q, Escape or Ctrl-C; the terminal swallows the interrupt signal while the
// preview is up.
func New(screen tcell.Screen, onQuit func(), logger *slog.Logger) *Output {
	return &Output{
		screen: screen,
		logger: logger,
		onQuit: onQuit,
	}
}

// Open implements panel.Output.
func (o *Output) Open(width, height int) error {
	if o.screen == nil {
		s, err := tcell.NewScreen()
		if err != nil {
			return errors.Wrap(err, "failed to create terminal screen")
		}
		o.screen = s
	}

	if err := o.screen.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize terminal screen")
	}

	tw, th := o.screen.Size()
	if tw < width || th < (height+1)/2 {
		o.logger.Warn(
			"terminal too small for the matrix, preview is cropped",
			"terminal", [2]int{tw, th},
			"matrix", [2]int{width, height})
	}

	o.screen.HideCursor()
	o.screen.Clear()

	o.done = make(chan struct{})
	go o.pollEvents()

	return nil
}

func (o *Output) pollEvents() {
	defer close(o.done)

	for {
		switch ev := o.screen.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventResize:
			o.screen.Sync()
		case *tcell.EventKey:
			if isQuit(ev) && o.onQuit != nil {
				o.onQuit()
			}
		}
	}
}

func isQuit(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyCtrlC, tcell.KeyEscape:
		return true
	case tcell.KeyRune:
		return ev.Rune() == 'q'
	}
	return false
}

// Show implements panel.Output.
func (o *Output) Show(frame *led.Frame) error {
	for y := 0; y < frame.Height; y += 2 {
		for x := 0; x < frame.Width; x++ {
			top := frame.At(x, y)
			bottom := frame.At(x, y+1) // black past the last row

			style := tcell.StyleDefault.
				Foreground(termColor(top)).
				Background(termColor(bottom))

			o.screen.SetContent(x, y/2, halfBlock, nil, style)
		}
	}

	o.screen.Show()
	return nil
}

func termColor(c led.RGBColor) tcell.Color {
	r, g, b := c.RGB()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

// Close implements panel.Output.
func (o *Output) Close() error {
	if o.done == nil {
		return nil
	}
	o.screen.Fini()
	<-o.done
	o.done = nil
	return nil
}
