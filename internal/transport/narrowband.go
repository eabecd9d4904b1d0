// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/car_tracker/internal/device"
	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/logger"
)

const (
	// MaxNarrowbandPayload is the largest uplink frame the network accepts.
	MaxNarrowbandPayload = 12
	// DefaultDailyQuota is the uplink allowance of the narrowband network.
	DefaultDailyQuota = 140

	quotaWindow = 24 * time.Hour
)

var (
	ErrQuotaExceeded   = errors.New("narrowband: daily message quota exceeded")
	ErrPayloadTooLarge = errors.New("narrowband: payload exceeds frame size")
)

// NarrowbandConfig describes the radio modem and the network limits.
type NarrowbandConfig struct {
	SerialPort        string `json:"serial_port"`
	BaudRate          int    `json:"baud_rate"`
	DailyQuota        int    `json:"daily_quota"`
	MaxPayloadBytes   int    `json:"max_payload_bytes"`
	ResponseTimeoutMS int    `json:"response_timeout_ms"`
}

// SetDefaults applies the network's published limits.
func (c *NarrowbandConfig) SetDefaults() {
	if c.SerialPort == "" {
		c.SerialPort = "/dev/ttyAMA1"
	}
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.DailyQuota == 0 {
		c.DailyQuota = DefaultDailyQuota
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = MaxNarrowbandPayload
	}
	if c.ResponseTimeoutMS == 0 {
		c.ResponseTimeoutMS = 10000
	}
}

// Validate checks the limits are usable.
func (c NarrowbandConfig) Validate() error {
	if c.DailyQuota <= 0 {
		return fmt.Errorf("daily_quota must be positive, got %d", c.DailyQuota)
	}
	if c.MaxPayloadBytes < gps.EncodedSize || c.MaxPayloadBytes > MaxNarrowbandPayload {
		return fmt.Errorf("max_payload_bytes must be between %d and %d, got %d", gps.EncodedSize, MaxNarrowbandPayload, c.MaxPayloadBytes)
	}
	if c.SerialPort == "" {
		return errors.New("serial_port is required")
	}
	return nil
}

// CheckPeriod fails when sending every period would exceed the daily quota.
func (c NarrowbandConfig) CheckPeriod(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %s", period)
	}
	perDay := float64(quotaWindow) / float64(period)
	if perDay > float64(c.DailyQuota) {
		return fmt.Errorf("period %s sends %.1f messages per day, narrowband quota is %d", period, perDay, c.DailyQuota)
	}
	return nil
}

var openRadio = func(cfg NarrowbandConfig) (Radio, error) {
	return OpenATModem(cfg)
}

// Narrowband sends the 8-byte encoded fix over the narrowband radio.
type Narrowband struct {
	cfg       NarrowbandConfig
	indicator device.Indicator
	log       logger.Logger
	quota     *quota

	preset Radio
	radio  Radio
}

// NewNarrowband creates the sink. A nil indicator is replaced by a no-op one.
func NewNarrowband(cfg NarrowbandConfig, indicator device.Indicator, log logger.Logger) *Narrowband {
	cfg.SetDefaults()
	if indicator == nil {
		indicator = device.NopIndicator{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Narrowband{
		cfg:       cfg,
		indicator: indicator,
		log:       log,
		quota:     newQuota(cfg.DailyQuota, quotaWindow),
	}
}

// NewNarrowbandWithRadio creates the sink on an already opened radio instead
// of the AT modem named in cfg.
func NewNarrowbandWithRadio(cfg NarrowbandConfig, radio Radio, indicator device.Indicator, log logger.Logger) *Narrowband {
	n := NewNarrowband(cfg, indicator, log)
	n.preset = radio
	return n
}

func (n *Narrowband) Name() string { return string(KindNarrowband) }

// Setup opens the radio modem.
func (n *Narrowband) Setup(context.Context) error {
	r := n.preset
	if r == nil {
		var err error
		if r, err = openRadio(n.cfg); err != nil {
			return fmt.Errorf("narrowband setup: %w", err)
		}
	}
	n.radio = r
	n.log.Infof("radio ready on %s (quota %d/day)", n.cfg.SerialPort, n.cfg.DailyQuota)
	return nil
}

// Send encodes f and hands it to the radio. The call blocks until the modem
// has accepted the frame; no delivery acknowledgment exists.
func (n *Narrowband) Send(_ context.Context, f gps.Fix) error {
	if n.radio == nil {
		return errors.New("narrowband: send before setup")
	}
	payload, err := gps.EncodeFix(f)
	if err != nil {
		return err
	}
	if len(payload) > n.cfg.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), n.cfg.MaxPayloadBytes)
	}
	if !n.quota.allow() {
		return ErrQuotaExceeded
	}

	n.log.Debugf("sending %v as %X (%d bytes)", f, payload[:], len(payload))
	if err := n.indicator.On(); err != nil {
		n.log.Warnf("indicator on: %v", err)
	}
	err = n.radio.Transmit(payload[:])
	if ierr := n.indicator.Off(); ierr != nil {
		n.log.Warnf("indicator off: %v", ierr)
	}
	if err != nil {
		return fmt.Errorf("narrowband transmit: %w", err)
	}
	n.quota.record()
	n.log.Debugf("sent, %d messages left today", n.quota.remaining())
	return nil
}

func (n *Narrowband) Close() error {
	if n.radio == nil {
		return nil
	}
	return n.radio.Close()
}
