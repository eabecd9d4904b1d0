// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrNoSinks        = errors.New("tracker: at least one sink is required")
	ErrAlreadyStarted = errors.New("tracker: tracking already started")
)

// SinkSetupError reports a sink that could not be initialized.
type SinkSetupError struct {
	Sink string
	Err  error
}

func (e *SinkSetupError) Error() string {
	return fmt.Sprintf("tracker: setup of sink %s failed: %v", e.Sink, e.Err)
}

func (e *SinkSetupError) Unwrap() error { return e.Err }
