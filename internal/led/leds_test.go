package led

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRGBColorText(t *testing.T) {
	var c RGBColor
	require.NoError(t, c.UnmarshalText([]byte("#0a96cc")))
	assert.Equal(t, RGBColor{0x0a, 0x96, 0xcc}, c)
	assert.Equal(t, "#0a96cc", c.String())

	assert.Error(t, c.UnmarshalText([]byte("#fff")))

	err := c.UnmarshalText([]byte("#gggggg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid color "#gggggg"`)
}

func TestRGBColorQuantize(t *testing.T) {
	c := RGBColor{0xFF, 0x87, 0x01}
	assert.Equal(t, RGBColor{0xF8, 0x80, 0x00}, c.Quantize(5))
	assert.Equal(t, c, c.Quantize(8))
	assert.Equal(t, RGBColor{0x80, 0x80, 0x00}, c.Quantize(1))
}

func TestLEDsAsPixels(t *testing.T) {
	leds := NewLEDs(2)
	leds[0] = RGBColor{1, 2, 3}
	leds[1] = RGBColor{4, 5, 6}
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6}, leds.AsPixels())

	var buf bytes.Buffer
	n, err := leds.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, buf.Bytes())

	assert.Nil(t, LEDs(nil).AsPixels())
}

func TestFrameBounds(t *testing.T) {
	f := NewFrame(4, 2)
	f.Set(3, 1, RGBColor{9, 9, 9})
	f.Set(4, 0, RGBColor{1, 1, 1}) // ignored
	f.Set(-1, 0, RGBColor{1, 1, 1})

	assert.Equal(t, RGBColor{9, 9, 9}, f.At(3, 1))
	assert.Equal(t, RGBColor{9, 9, 9}, f.LEDs[7])
	assert.Equal(t, RGBColor{}, f.At(4, 0))
	for i, c := range f.LEDs[:7] {
		assert.Equal(t, RGBColor{}, c, "index %d", i)
	}
}
