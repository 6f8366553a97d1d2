package termview

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libdb.so/matrixglow/internal/led"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOutputHalfBlocks(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	screen.SetSize(80, 24)

	o := New(screen, nil, discard)
	require.NoError(t, o.Open(2, 3))
	defer o.Close()

	red := led.RGBColor{0xFF, 0x00, 0x00}
	blue := led.RGBColor{0x00, 0x00, 0xFF}
	green := led.RGBColor{0x00, 0xFF, 0x00}

	frame := led.NewFrame(2, 3)
	frame.Set(0, 0, red)
	frame.Set(0, 1, blue)
	frame.Set(1, 2, green)
	require.NoError(t, o.Show(frame))

	tests := []struct {
		x, y   int
		fg, bg led.RGBColor
	}{
		{0, 0, red, blue},
		{1, 0, led.RGBColor{}, led.RGBColor{}},
		{0, 1, led.RGBColor{}, led.RGBColor{}},
		{1, 1, green, led.RGBColor{}},
	}

	for _, test := range tests {
		r, _, style, _ := screen.GetContent(test.x, test.y)
		assert.Equal(t, halfBlock, r)

		fg, bg, _ := style.Decompose()
		assert.Equal(t, termColor(test.fg), fg, "fg at %d,%d", test.x, test.y)
		assert.Equal(t, termColor(test.bg), bg, "bg at %d,%d", test.x, test.y)
	}

	// Nothing is drawn past the matrix.
	r, _, _, _ := screen.GetContent(2, 0)
	assert.Equal(t, ' ', r)
}

func TestOutputQuitKey(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	screen.SetSize(20, 10)

	quit := make(chan struct{}, 1)
	o := New(screen, func() { quit <- struct{}{} }, discard)
	require.NoError(t, o.Open(4, 4))

	screen.InjectKey(tcell.KeyRune, 'x', tcell.ModNone)
	screen.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)

	select {
	case <-quit:
	case <-time.After(2 * time.Second):
		t.Fatal("quit callback not called")
	}

	assert.NoError(t, o.Close())
	assert.NoError(t, o.Close())
}
