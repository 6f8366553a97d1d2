// Package panel implements the double-buffered LED matrix the animation
// engine draws into.
package panel

import (
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"libdb.so/matrixglow/internal/led"
)

// ErrNotInitialized is returned by Present when Initialize has not succeeded.
var ErrNotInitialized = errors.New("panel not initialized")

// Panel is the display the animation engine renders into.
type Panel interface {
	// Initialize prepares the panel. It must succeed before any other method
	// is used.
	Initialize(width, height, bitDepth int) error
	// Size returns the panel dimensions.
	Size() (width, height int)
	// WritePixel writes a color into the writable buffer.
	WritePixel(x, y int, c led.RGBColor)
	// Present makes the writable buffer visible and hands the previously
	// visible buffer back for writing.
	Present() error
	// ColorFromHSV converts a hue on the 16-bit color wheel plus saturation
	// and value into a native color.
	ColorFromHSV(hue uint16, sat, val uint8) led.RGBColor
	// Close releases the panel.
	Close() error
}

// Output is the scan-out side of a Matrix. Show receives the buffer that just
// became visible; it must not retain the frame after returning.
type Output interface {
	Open(width, height int) error
	Show(frame *led.Frame) error
	Close() error
}

// Matrix is a Panel backed by two frame buffers and an Output.
type Matrix struct {
	out      Output
	buffers  [2]*led.Frame
	back     int
	bitDepth int
	frames   uint64
	ready    bool
}

var _ Panel = (*Matrix)(nil)

// NewMatrix creates a new matrix that scans out to out.
func NewMatrix(out Output) *Matrix {
	return &Matrix{out: out}
}

// Initialize implements Panel.
func (m *Matrix) Initialize(width, height, bitDepth int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("invalid panel size %dx%d", width, height)
	}
	if bitDepth < 1 || bitDepth > 8 {
		return errors.Errorf("invalid bit depth %d", bitDepth)
	}

	if err := m.out.Open(width, height); err != nil {
		return errors.Wrap(err, "failed to open panel output")
	}

	m.buffers[0] = led.NewFrame(width, height)
	m.buffers[1] = led.NewFrame(width, height)
	m.back = 0
	m.bitDepth = bitDepth
	m.ready = true
	return nil
}

// Size implements Panel.
func (m *Matrix) Size() (width, height int) {
	if !m.ready {
		return 0, 0
	}
	return m.buffers[0].Width, m.buffers[0].Height
}

// WritePixel implements Panel. Writes outside the panel are ignored.
func (m *Matrix) WritePixel(x, y int, c led.RGBColor) {
	if !m.ready {
		return
	}
	m.buffers[m.back].Set(x, y, c.Quantize(m.bitDepth))
}

// Present implements Panel.
func (m *Matrix) Present() error {
	if !m.ready {
		return ErrNotInitialized
	}

	if err := m.out.Show(m.buffers[m.back]); err != nil {
		return errors.Wrap(err, "failed to show frame")
	}

	m.back ^= 1
	m.frames++
	return nil
}

// Visible returns the buffer currently scanned out. It is meant for
// inspection only.
func (m *Matrix) Visible() *led.Frame {
	if !m.ready || m.frames == 0 {
		return nil
	}
	return m.buffers[m.back^1]
}

// FrameCount returns the number of frames presented so far.
func (m *Matrix) FrameCount() uint64 {
	return m.frames
}

// ColorFromHSV implements Panel.
func (m *Matrix) ColorFromHSV(hue uint16, sat, val uint8) led.RGBColor {
	return ColorFromHSV(hue, sat, val)
}

// Close implements Panel.
func (m *Matrix) Close() error {
	m.ready = false
	return m.out.Close()
}

// ColorFromHSV converts a hue on the 16-bit wheel (65536 steps per turn) to
// RGB.
func ColorFromHSV(hue uint16, sat, val uint8) led.RGBColor {
	c := colorful.Hsv(
		float64(hue)*360/65536,
		float64(sat)/0xFF,
		float64(val)/0xFF,
	)
	r, g, b := c.Clamped().RGB255()
	return led.RGBColor{r, g, b}
}
