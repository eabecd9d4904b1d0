// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// Clock reports wall-clock time and whether it comes from a synchronized
// source.
type Clock interface {
	Now() (time.Time, bool)
}

// SyncedClock is the system clock corrected by the offset measured against a
// time authority.
type SyncedClock struct {
	offset time.Duration
	synced bool
	now    func() time.Time
}

// NewSyncedClock returns a clock with the given offset and sync state.
func NewSyncedClock(offset time.Duration, synced bool) *SyncedClock {
	return &SyncedClock{offset: offset, synced: synced, now: time.Now}
}

func (c *SyncedClock) Now() (time.Time, bool) {
	return c.now().Add(c.offset).UTC(), c.synced
}

// Offset returns the correction applied to the system clock.
func (c *SyncedClock) Offset() time.Duration { return c.offset }

var queryNTP = func(server string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("invalid ntp response: %w", err)
	}
	return resp.ClockOffset, nil
}
