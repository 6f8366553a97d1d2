// Package geometry precomputes the radial hue offsets of a panel.
package geometry

import (
	"math"

	"github.com/pkg/errors"
)

// MaxRatio is the stored value of a pixel sitting on the reference corner.
const MaxRatio = math.MaxUint16

// Table holds, for every pixel, how close it is to the reference corner (0, 0)
// relative to the panel diagonal. The table is row-major and immutable once
// built.
type Table struct {
	width  int
	height int
	ratios []uint16
}

// Build computes the table for a panel of the given size. It runs once at
// startup.
func Build(width, height int) (*Table, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid panel size %dx%d", width, height)
	}

	diag := math.Hypot(float64(width), float64(height))

	t := &Table{
		width:  width,
		height: height,
		ratios: make([]uint16, width*height),
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			radius := math.Hypot(float64(x), float64(y))
			ratio := 1 - radius/diag
			t.ratios[y*width+x] = uint16(ratio * MaxRatio)
		}
	}

	return t, nil
}

// Width returns the panel width the table was built for.
func (t *Table) Width() int { return t.width }

// Height returns the panel height the table was built for.
func (t *Table) Height() int { return t.height }

// Len returns the number of entries, which equals the panel pixel count.
func (t *Table) Len() int { return len(t.ratios) }

// Ratio returns the stored 16-bit fraction for (x, y).
func (t *Table) Ratio(x, y int) uint16 {
	return t.ratios[y*t.width+x]
}

// Offset scales the ratio of (x, y) into [0, hueRange].
func (t *Table) Offset(x, y int, hueRange uint16) uint16 {
	return Scale(t.ratios[y*t.width+x], hueRange)
}

// Scale maps a 16-bit fraction onto [0, hueRange].
func Scale(ratio, hueRange uint16) uint16 {
	return uint16(uint32(ratio) * uint32(hueRange) / MaxRatio)
}
