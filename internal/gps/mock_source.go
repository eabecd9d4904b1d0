// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"math"
	"sync"
	"time"
)

// MockSource generates a slowly wandering track around a start position.
// It is used for bench runs without a receiver attached.
type MockSource struct {
	origin Fix
	now    func() time.Time

	mu    sync.Mutex
	start time.Time
	ready bool
}

// NewMockSource creates a mock source centred on origin.
func NewMockSource(origin Fix) *MockSource {
	return &MockSource{origin: origin, now: time.Now}
}

func (m *MockSource) Setup(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = m.now()
	m.ready = true
	return nil
}

func (m *MockSource) Fix() (Fix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return Fix{}, ErrUnavailable
	}
	elapsed := m.now().Sub(m.start).Seconds()
	f := Fix{
		Latitude:  m.origin.Latitude + 0.001*math.Sin(elapsed/60),
		Longitude: m.origin.Longitude + 0.001*math.Cos(elapsed/45),
	}
	if !f.Valid() {
		return m.origin, nil
	}
	return f, nil
}

func (m *MockSource) Close() error { return nil }
