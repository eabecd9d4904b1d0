// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"context"
	"fmt"
	"time"

	"github.com/relabs-tech/car_tracker/internal/logger"
)

// BringupConfig controls the board initialization phase.
type BringupConfig struct {
	// NTPServer is the time authority. Empty skips synchronization.
	NTPServer  string
	NTPTimeout time.Duration
	// TrustSystemClock marks the system clock as authoritative when no time
	// authority is configured or reachable.
	TrustSystemClock bool
	// IndicatorPin names the GPIO driving the status light. Empty disables it.
	IndicatorPin string
}

// Result carries what the rest of the program needs from bring-up.
type Result struct {
	Clock     Clock
	Indicator Indicator
}

var openIndicator = func(pin string) (Indicator, error) {
	return NewGPIOIndicator(pin)
}

// Bringup is the explicit board initialization phase run before tracking
// starts.
type Bringup struct {
	cfg BringupConfig
	log logger.Logger
}

func NewBringup(cfg BringupConfig, log logger.Logger) *Bringup {
	if cfg.NTPTimeout <= 0 {
		cfg.NTPTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Bringup{cfg: cfg, log: log}
}

// Run claims the indicator, lights it for the duration of bring-up and
// synchronizes the clock. Only an indicator that is configured but cannot be
// claimed fails bring-up; a failed clock sync yields an unsynced clock.
func (b *Bringup) Run(ctx context.Context) (*Result, error) {
	var ind Indicator = NopIndicator{}
	if b.cfg.IndicatorPin != "" {
		i, err := openIndicator(b.cfg.IndicatorPin)
		if err != nil {
			return nil, fmt.Errorf("bring-up: %w", err)
		}
		ind = i
		b.log.Infof("status indicator on pin %s", b.cfg.IndicatorPin)
	}
	if err := ind.On(); err != nil {
		b.log.Warnf("indicator on: %v", err)
	}
	defer func() {
		if err := ind.Off(); err != nil {
			b.log.Warnf("indicator off: %v", err)
		}
	}()

	return &Result{Clock: b.syncClock(ctx), Indicator: ind}, nil
}

func (b *Bringup) syncClock(ctx context.Context) *SyncedClock {
	if b.cfg.NTPServer == "" {
		b.log.Infof("clock sync disabled, system clock trusted=%t", b.cfg.TrustSystemClock)
		return NewSyncedClock(0, b.cfg.TrustSystemClock)
	}
	if err := ctx.Err(); err != nil {
		return NewSyncedClock(0, b.cfg.TrustSystemClock)
	}
	offset, err := queryNTP(b.cfg.NTPServer, b.cfg.NTPTimeout)
	if err != nil {
		b.log.Warnf("clock sync with %s failed: %v", b.cfg.NTPServer, err)
		return NewSyncedClock(0, b.cfg.TrustSystemClock)
	}
	b.log.Infof("clock synchronized with %s (offset %s)", b.cfg.NTPServer, offset)
	return NewSyncedClock(offset, true)
}
