// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned by Source.Fix before the first fix has been
	// acquired.
	ErrUnavailable = errors.New("gps: no fix available yet")
	// ErrAcquisitionTimeout is returned by Source.Setup when the receiver did
	// not report a fix within the configured window.
	ErrAcquisitionTimeout = errors.New("gps: timed out waiting for first fix")
)

// Source is anything that can provide position fixes.
type Source interface {
	// Setup enables the receiver and blocks until a complete fix is known,
	// the acquisition window elapses or ctx is done.
	Setup(ctx context.Context) error
	// Fix returns the most recent fix without blocking.
	Fix() (Fix, error)
	Close() error
}
