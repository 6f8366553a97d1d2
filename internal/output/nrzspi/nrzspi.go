// Package nrzspi drives a matrix of WS2812-style LEDs directly from an SPI
// port.
package nrzspi

import (
	"log/slog"

	"github.com/pkg/errors"
	"libdb.so/matrixglow/internal/led"
	"libdb.so/matrixglow/internal/panel"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// Config configures the SPI output.
type Config struct {
	// Port is the SPI port name. Empty selects the first available port.
	Port string
	// Freq is the NRZ bit rate. Zero selects 800kHz.
	Freq physic.Frequency
	// Serpentine reverses every odd row, for strips that zig-zag across the
	// matrix.
	Serpentine bool
}

// Output is a panel.Output writing to an nrzled device.
type Output struct {
	cfg    Config
	logger *slog.Logger

	port   spi.Port
	closer spi.PortCloser
	dev    *nrzled.Dev
	pix    []byte
	width  int
}

var _ panel.Output = (*Output)(nil)

// New creates an output that opens the SPI port named in cfg.
func New(cfg Config, logger *slog.Logger) *Output {
	return &Output{cfg: cfg, logger: logger}
}

// NewWithPort creates an output on an already opened port. Close does not
// close port.
func NewWithPort(port spi.Port, cfg Config, logger *slog.Logger) *Output {
	return &Output{cfg: cfg, logger: logger, port: port}
}

// Open implements panel.Output.
func (o *Output) Open(width, height int) error {
	port := o.port
	if port == nil {
		if _, err := host.Init(); err != nil {
			return errors.Wrap(err, "failed to initialize periph host")
		}

		p, err := spireg.Open(o.cfg.Port)
		if err != nil {
			return errors.Wrapf(err, "failed to open SPI port %q", o.cfg.Port)
		}

		o.closer = p
		port = p
	}

	freq := o.cfg.Freq
	if freq == 0 {
		freq = nrzled.DefaultOpts.Freq
	}

	dev, err := nrzled.NewSPI(port, &nrzled.Opts{
		NumPixels: width * height,
		Channels:  3,
		Freq:      freq,
	})
	if err != nil {
		o.closePort()
		return errors.Wrap(err, "failed to create nrzled device")
	}

	o.logger.Debug(
		"opened nrzled device",
		"device", dev.String(),
		"pixels", width*height,
		"freq", freq)

	o.dev = dev
	o.width = width
	o.pix = make([]byte, 3*width*height)
	return nil
}

// Show implements panel.Output.
func (o *Output) Show(frame *led.Frame) error {
	if o.dev == nil {
		return errors.New("nrzled device not open")
	}

	pix := frame.LEDs.AsPixels()
	if !o.cfg.Serpentine {
		copy(o.pix, pix)
	} else {
		stride := 3 * o.width
		for y := 0; y*stride < len(pix); y++ {
			row := pix[y*stride : (y+1)*stride]
			dst := o.pix[y*stride : (y+1)*stride]
			if y%2 == 0 {
				copy(dst, row)
				continue
			}
			for x := 0; x < o.width; x++ {
				copy(dst[3*x:3*x+3], row[3*(o.width-x-1):3*(o.width-x)])
			}
		}
	}

	if _, err := o.dev.Write(o.pix); err != nil {
		return errors.Wrap(err, "failed to write pixels")
	}
	return nil
}

// Close implements panel.Output. The strip is blanked before the port is
// released.
func (o *Output) Close() error {
	var err error
	if o.dev != nil {
		err = o.dev.Halt()
		o.dev = nil
	}
	if cerr := o.closePort(); err == nil {
		err = cerr
	}
	return err
}

func (o *Output) closePort() error {
	if o.closer == nil {
		return nil
	}
	err := o.closer.Close()
	o.closer = nil
	return err
}
