// Package power operates the PWRKEY line of a SIMCom modem through a GPIO.
package power

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrPinNotFound is returned by Open for an unknown GPIO name.
var ErrPinNotFound = errors.New("power: GPIO pin not found")

// Key drives the PWRKEY input of a modem. Most carrier boards invert the
// line with a transistor, so by default the key is pressed by driving the
// GPIO high.
type Key struct {
	pin    gpio.PinOut
	active gpio.Level
	pulse  time.Duration
	settle time.Duration
}

// KeyOption configures a Key.
type KeyOption func(*Key)

// WithActiveLevel sets the GPIO level that presses the key.
func WithActiveLevel(l gpio.Level) KeyOption {
	return func(k *Key) { k.active = l }
}

// WithPulse sets how long the key is held. SIM7080 and SIM800 need at
// least 1.2 s to power off.
func WithPulse(d time.Duration) KeyOption {
	return func(k *Key) { k.pulse = d }
}

// WithSettle sets how long the modem is left alone after a press.
func WithSettle(d time.Duration) KeyOption {
	return func(k *Key) { k.settle = d }
}

// NewKey returns a released key on pin.
func NewKey(pin gpio.PinOut, opts ...KeyOption) (*Key, error) {
	k := &Key{
		pin:    pin,
		active: gpio.High,
		pulse:  1500 * time.Millisecond,
		settle: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(k)
	}
	if err := k.release(); err != nil {
		return nil, err
	}
	return k, nil
}

// Open initializes the host drivers and returns the key on the named GPIO,
// e.g. "GPIO4".
func Open(name string, opts ...KeyOption) (*Key, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("power: initialize host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return NewKey(p, opts...)
}

// Press holds the key for the configured pulse, then waits for the modem
// to settle. The key is released even when ctx ends early.
func (k *Key) Press(ctx context.Context) error {
	if err := k.pin.Out(k.active); err != nil {
		return fmt.Errorf("power: press %s: %w", k.pin, err)
	}
	err := wait(ctx, k.pulse)
	if relErr := k.release(); relErr != nil {
		return relErr
	}
	if err != nil {
		return err
	}
	return wait(ctx, k.settle)
}

// PowerCycle presses the key twice, switching a running modem off and on
// again.
func (k *Key) PowerCycle(ctx context.Context) error {
	if err := k.Press(ctx); err != nil {
		return err
	}
	return k.Press(ctx)
}

func (k *Key) release() error {
	if err := k.pin.Out(!k.active); err != nil {
		return fmt.Errorf("power: release %s: %w", k.pin, err)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
