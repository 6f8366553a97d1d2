// Package ledport scans frames out to a matrix controller board over a serial
// line using the ledserial protocol.
package ledport

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
	"libdb.so/matrixglow/internal/led"
	"libdb.so/matrixglow/internal/panel"
	"libdb.so/matrixglow/ledserial"
)

// Config configures the serial output.
type Config struct {
	// Device is the serial device, e.g. /dev/ttyACM0.
	Device string
	// Baud is the baud rate.
	Baud int
	// BitDepth is the per-channel depth announced to the controller.
	BitDepth int
}

// Output is a panel.Output that writes ledserial packets to a serial port.
type Output struct {
	cfg    Config
	logger *slog.Logger

	port   io.ReadWriteCloser
	cancel context.CancelFunc
	errg   *errgroup.Group

	mu    sync.Mutex
	fault error
}

var _ panel.Output = (*Output)(nil)

// New creates a new serial output. Nothing is opened until Open.
func New(cfg Config, logger *slog.Logger) *Output {
	return &Output{
		cfg:    cfg,
		logger: logger,
	}
}

// Open implements panel.Output. It opens the serial device and initializes the
// controller.
func (o *Output) Open(width, height int) error {
	port, err := serial.Open(o.cfg.Device, &serial.Mode{
		BaudRate: o.cfg.Baud,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", o.cfg.Device)
	}

	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return errors.Wrap(err, "failed to reset read timeout")
	}

	return o.Attach(port, width, height)
}

// Attach is like Open but uses an already opened port. The output takes
// ownership of port and closes it if Attach fails.
func (o *Output) Attach(port io.ReadWriteCloser, width, height int) error {
	if width > 0xFFFF || height > 0xFFFF {
		port.Close()
		return errors.Errorf("matrix %dx%d too large for the controller", width, height)
	}

	o.port = port

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	o.errg, ctx = errgroup.WithContext(ctx)
	o.errg.Go(func() error {
		return o.readPackets(ctx)
	})

	o.logger.Debug(
		"sending initialize packet",
		"width", width,
		"height", height,
		"bit_depth", o.cfg.BitDepth)

	if err := o.writePacket(ledserial.InitializePacket{
		Width:    uint16(width),
		Height:   uint16(height),
		BitDepth: uint8(o.cfg.BitDepth),
	}); err != nil {
		o.Close()
		return errors.Wrap(err, "failed to initialize controller")
	}

	if err := o.writePacket(ledserial.ClearPacket{}); err != nil {
		o.Close()
		return errors.Wrap(err, "failed to clear controller")
	}

	return nil
}

// Show implements panel.Output.
func (o *Output) Show(frame *led.Frame) error {
	if err := o.Err(); err != nil {
		return err
	}
	return o.writePacket(ledserial.SetPacket{
		Pix: frame.LEDs.AsPixels(),
	})
}

// Err returns the error reported by the controller, if any.
func (o *Output) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fault
}

// Close implements panel.Output.
func (o *Output) Close() error {
	if o.port == nil {
		return nil
	}

	o.logger.Debug("closing serial port")

	o.cancel()
	err := o.port.Close()
	o.errg.Wait()
	o.port = nil

	if err != nil {
		return errors.Wrap(err, "failed to close serial port")
	}
	return nil
}

func (o *Output) readPackets(ctx context.Context) error {
	for ctx.Err() == nil {
		p, err := ledserial.ReadOutgoingPacket(o.port)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// A short read indicates a timeout. This is expected.
			if errors.Is(err, io.EOF) {
				continue
			}
			o.setFault(errors.Wrap(err, "failed to read packet from controller"))
			return nil
		}

		o.handlePacket(p)
	}

	return nil
}

func (o *Output) handlePacket(p ledserial.OutgoingPacket) {
	switch p := p.(type) {
	case ledserial.AckPacket:
		o.logger.Debug(
			"received ack packet from controller",
			"acked_for", p.IncomingPacketType)

	case ledserial.ErrorPacket:
		o.logger.Warn(
			"received error packet from controller",
			"message", p.Message)
		o.setFault(errors.Errorf("controller reported error: %s", p.Message))

	case ledserial.PanicPacket:
		o.logger.Error("controller unrecoverably panicked")
		o.setFault(errors.New("controller panicked"))

	case ledserial.LogPacket:
		o.logger.Info(
			"received log packet from controller",
			"message", p.Message)

	default:
		o.logger.Warn(
			"received unknown packet from controller",
			"type", p.Type())
	}
}

func (o *Output) setFault(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fault == nil {
		o.fault = err
	}
}

func (o *Output) writePacket(p ledserial.IncomingPacket) error {
	if err := ledserial.WriteIncomingPacket(o.port, p); err != nil {
		return errors.Wrapf(err, "failed to write %s packet", p.Type())
	}
	return nil
}
