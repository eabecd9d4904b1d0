// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

// State is the orchestrator lifecycle position.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Armed
	Firing
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FirePolicy selects when the first cycle runs after arming.
type FirePolicy string

const (
	// FireImmediately runs one cycle as soon as the schedule is armed.
	FireImmediately FirePolicy = "immediate"
	// FireDelayed waits one full period before the first cycle.
	FireDelayed FirePolicy = "delayed"
)

// SetupPolicy selects what happens when a sink fails to initialize.
type SetupPolicy string

const (
	// SetupAbort stops startup on the first failing sink.
	SetupAbort SetupPolicy = "abort"
	// SetupExclude drops failing sinks and tracks with the rest.
	SetupExclude SetupPolicy = "exclude"
)
