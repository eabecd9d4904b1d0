// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport holds the sinks a fix is delivered to: a quota-limited
// narrowband radio, a cellular MQTT uplink, a local-network websocket feed and
// the console.
package transport

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/relabs-tech/car_tracker/internal/device"
	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/logger"
)

// Sink delivers fixes over one medium.
type Sink interface {
	Name() string
	// Setup establishes whatever session the medium needs. It is called once,
	// before the first Send.
	Setup(ctx context.Context) error
	// Send delivers one fix synchronously.
	Send(ctx context.Context, f gps.Fix) error
	Close() error
}

// Kind identifies a sink implementation.
type Kind string

const (
	KindNarrowband   Kind = "narrowband"
	KindCellular     Kind = "cellular"
	KindLocalNetwork Kind = "local-network"
	KindConsole      Kind = "console"
)

// Kinds lists every sink implementation.
var Kinds = [...]Kind{KindNarrowband, KindCellular, KindLocalNetwork, KindConsole}

var (
	_ Sink = (*Narrowband)(nil)
	_ Sink = (*Cellular)(nil)
	_ Sink = (*LocalNetwork)(nil)
	_ Sink = (*Console)(nil)
)

// ParseKind maps a configuration value to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transport %q (want one of %v)", s, Kinds)
}

// Options carries the per-kind configuration and shared collaborators used
// by New.
type Options struct {
	Narrowband   NarrowbandConfig
	Cellular     CellularConfig
	LocalNetwork LocalNetworkConfig
	// Console defaults to stdout.
	Console io.Writer
	// Indicator is toggled by the narrowband sink around transmissions.
	Indicator device.Indicator
}

// New builds the sink for kind.
func New(kind Kind, opts Options) (Sink, error) {
	switch kind {
	case KindNarrowband:
		return NewNarrowband(opts.Narrowband, opts.Indicator, logger.New("narrowband")), nil
	case KindCellular:
		return NewCellular(opts.Cellular, logger.New("cellular")), nil
	case KindLocalNetwork:
		return NewLocalNetwork(opts.LocalNetwork, logger.New("local_network")), nil
	case KindConsole:
		w := opts.Console
		if w == nil {
			w = os.Stdout
		}
		return NewConsole(w), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
