// Package led contains the pixel storage shared by the panel and its outputs.
package led

import (
	"encoding"
	"encoding/hex"
	"io"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
)

// RGBColor is a 24-bit color laid out in wire order.
type RGBColor [3]uint8

var (
	_ encoding.TextUnmarshaler = (*RGBColor)(nil)
	_ encoding.TextMarshaler   = RGBColor{}
)

// RGB returns the three channels of c.
func (c RGBColor) RGB() (r, g, b uint8) { return c[0], c[1], c[2] }

// Quantize drops the low bits of every channel so that only depth bits remain.
// A depth of 8 or more returns c unchanged.
func (c RGBColor) Quantize(depth int) RGBColor {
	if depth >= 8 || depth <= 0 {
		return c
	}
	mask := uint8(0xFF << (8 - depth))
	return RGBColor{c[0] & mask, c[1] & mask, c[2] & mask}
}

// String formats c as #rrggbb.
func (c RGBColor) String() string {
	return "#" + hex.EncodeToString(c[:])
}

// MarshalText implements encoding.TextMarshaler.
func (c RGBColor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a #rrggbb (or rrggbb) color.
func (c *RGBColor) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "#")
	if len(s) != 6 {
		return errors.Errorf("invalid color %q: expected #rrggbb", text)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "invalid color %q", text)
	}
	copy(c[:], b)
	return nil
}

// LEDs describes a strip of LEDs. It is a preallocated slice of RGBColor.
type LEDs []RGBColor

// NewLEDs creates a new strip of LEDs. Colors are initialized to black
// (off).
func NewLEDs(numLEDs int) LEDs {
	return make(LEDs, numLEDs)
}

// WriteTo implements io.WriterTo. It writes the LED strip to the given writer
// as a series of RGBColor values.
func (l LEDs) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(l.AsPixels())
	return int64(n), err
}

// AsPixels returns the LED strip as a slice of uint8 values. Each LED is
// represented by three values, one for each color channel. The returned slice
// aliases l.
func (l LEDs) AsPixels() []uint8 {
	if len(l) == 0 {
		return nil
	}
	return unsafe.Slice((*uint8)(unsafe.Pointer(&l[0])), 3*len(l))
}

// SetRange sets the color of the LEDs in the given range.
func (l LEDs) SetRange(start, end int, c RGBColor) {
	for i := start; i < end; i++ {
		l[i] = c
	}
}

// Fill sets every LED to c.
func (l LEDs) Fill(c RGBColor) {
	l.SetRange(0, len(l), c)
}

// Frame is a row-major grid of LEDs.
type Frame struct {
	Width  int
	Height int
	LEDs   LEDs
}

// NewFrame allocates a black frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		LEDs:   NewLEDs(width * height),
	}
}

// Index returns the row-major index of (x, y).
func (f *Frame) Index(x, y int) int {
	return y*f.Width + x
}

// In reports whether (x, y) lies within the frame.
func (f *Frame) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < f.Width && y < f.Height
}

// Set sets the color at (x, y). Out of bounds writes are ignored.
func (f *Frame) Set(x, y int, c RGBColor) {
	if f.In(x, y) {
		f.LEDs[f.Index(x, y)] = c
	}
}

// At returns the color at (x, y), or black if out of bounds.
func (f *Frame) At(x, y int) RGBColor {
	if !f.In(x, y) {
		return RGBColor{}
	}
	return f.LEDs[f.Index(x, y)]
}

// CopyFrom copies the pixels of src into f. Both frames must be the same size.
func (f *Frame) CopyFrom(src *Frame) {
	copy(f.LEDs, src.LEDs)
}
