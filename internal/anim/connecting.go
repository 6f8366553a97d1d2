package anim

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"libdb.so/matrixglow/internal/led"
	"libdb.so/matrixglow/internal/panel"
)

// DefaultConnectingText is shown while waiting for the network.
const DefaultConnectingText = "WIFI"

// Connecting is the pattern shown instead of the animation while the link is
// being established. The text is rasterized once.
type Connecting struct {
	mask  *image.Alpha
	color led.RGBColor
}

// NewConnecting rasterizes text centered on a width x height panel.
func NewConnecting(width, height int, text string, c led.RGBColor) *Connecting {
	mask := image.NewAlpha(image.Rect(0, 0, width, height))

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.NewUniform(color.Alpha{A: 0xFF}),
		Face: face,
	}

	metrics := face.Metrics()
	textWidth := d.MeasureString(text).Round()
	textHeight := metrics.Ascent.Round() + metrics.Descent.Round()

	x := (width - textWidth) / 2
	y := (height-textHeight)/2 + metrics.Ascent.Round()

	d.Dot = fixed.P(x, y)
	d.DrawString(text)

	return &Connecting{mask: mask, color: c}
}

// Draw writes the pattern into p and presents it. When on is false the panel
// is blanked, which makes the text blink across calls.
func (c *Connecting) Draw(p panel.Panel, on bool) error {
	b := c.mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var px led.RGBColor
			if on && c.mask.AlphaAt(x, y).A >= 0x80 {
				px = c.color
			}
			p.WritePixel(x, y, px)
		}
	}

	if err := p.Present(); err != nil {
		return errors.Wrap(err, "failed to present connecting pattern")
	}
	return nil
}

// Lit returns the number of pixels the text covers.
func (c *Connecting) Lit() int {
	var n int
	for _, a := range c.mask.Pix {
		if a >= 0x80 {
			n++
		}
	}
	return n
}
