// Package indicator drives the status LED that blinks while the link is
// coming up.
package indicator

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Indicator is a single on/off status light.
type Indicator interface {
	Set(on bool)
}

// Nop is an Indicator that does nothing.
type Nop struct{}

// Set implements Indicator.
func (Nop) Set(bool) {}

// GPIO is an Indicator on a GPIO output pin.
type GPIO struct {
	pin gpio.PinOut
}

var _ Indicator = (*GPIO)(nil)

// OpenGPIO initializes the host drivers and looks up the named pin, e.g.
// "GPIO17".
func OpenGPIO(name string) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize host drivers")
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no such pin %q", name)
	}

	return NewGPIO(pin)
}

// NewGPIO wraps an output pin. The pin is driven low initially.
func NewGPIO(pin gpio.PinOut) (*GPIO, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "failed to configure pin %s", pin)
	}
	return &GPIO{pin: pin}, nil
}

// Set implements Indicator. Errors are ignored; the light is cosmetic.
func (g *GPIO) Set(on bool) {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	_ = g.pin.Out(level)
}
