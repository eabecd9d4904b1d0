// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/relabs-tech/car_tracker/internal/gps"
)

// Console prints each fix on a line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Name() string { return string(KindConsole) }

func (c *Console) Setup(context.Context) error { return nil }

func (c *Console) Send(_ context.Context, f gps.Fix) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[FIX ]  lat=%.5f lon=%.5f\n", f.Latitude, f.Longitude)
	return err
}

func (c *Console) Close() error { return nil }
