// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Indicator is a status light toggled around interesting events. It is purely
// observational: callers ignore its state.
type Indicator interface {
	On() error
	Off() error
	Close() error
}

// NopIndicator is used when no indicator pin is wired.
type NopIndicator struct{}

func (NopIndicator) On() error    { return nil }
func (NopIndicator) Off() error   { return nil }
func (NopIndicator) Close() error { return nil }

// GPIOIndicator drives an LED connected to a GPIO pin.
type GPIOIndicator struct {
	name string
	pin  gpio.PinIO
}

// NewGPIOIndicator initializes the periph host and claims the named pin,
// starting with the light off.
func NewGPIOIndicator(name string) (*GPIOIndicator, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("indicator pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("indicator pin %q: %w", name, err)
	}
	return &GPIOIndicator{name: name, pin: p}, nil
}

func (i *GPIOIndicator) On() error  { return i.pin.Out(gpio.High) }
func (i *GPIOIndicator) Off() error { return i.pin.Out(gpio.Low) }

// Close switches the light off and releases the pin.
func (i *GPIOIndicator) Close() error {
	if err := i.Off(); err != nil {
		return err
	}
	return i.pin.Halt()
}

func (i *GPIOIndicator) String() string { return "gpio:" + i.name }
