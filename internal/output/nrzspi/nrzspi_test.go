package nrzspi

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libdb.so/matrixglow/internal/led"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spitest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOutputWritesFrames(t *testing.T) {
	var buf bytes.Buffer

	o := NewWithPort(spitest.NewRecordRaw(&buf), Config{Freq: 2500 * physic.KiloHertz}, discard)
	require.NoError(t, o.Open(4, 2))

	frame := led.NewFrame(4, 2)
	frame.LEDs.Fill(led.RGBColor{0x10, 0x20, 0x30})
	require.NoError(t, o.Show(frame))

	first := buf.Len()
	assert.NotZero(t, first)

	// Same frame, same encoding.
	require.NoError(t, o.Show(frame))
	assert.Equal(t, 2*first, buf.Len())
	assert.Equal(t, buf.Bytes()[:first], buf.Bytes()[first:])

	require.NoError(t, o.Close())
}

func TestOutputSerpentine(t *testing.T) {
	var straight, snake bytes.Buffer

	frame := led.NewFrame(2, 2)
	frame.Set(0, 1, led.RGBColor{0xFF, 0x00, 0x00})

	mirrored := led.NewFrame(2, 2)
	mirrored.Set(1, 1, led.RGBColor{0xFF, 0x00, 0x00})

	a := NewWithPort(spitest.NewRecordRaw(&straight), Config{}, discard)
	require.NoError(t, a.Open(2, 2))
	require.NoError(t, a.Show(mirrored))

	b := NewWithPort(spitest.NewRecordRaw(&snake), Config{Serpentine: true}, discard)
	require.NoError(t, b.Open(2, 2))
	require.NoError(t, b.Show(frame))

	assert.Equal(t, straight.Bytes(), snake.Bytes())
}

func TestOutputShowBeforeOpen(t *testing.T) {
	o := New(Config{}, discard)
	assert.Error(t, o.Show(led.NewFrame(1, 1)))
	assert.NoError(t, o.Close())
}
