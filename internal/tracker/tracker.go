// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker runs the tracking cycle: it owns the transmission
// schedule, reads the position source and dispatches every fix to the
// transport sinks and the fix log.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/car_tracker/internal/device"
	"github.com/relabs-tech/car_tracker/internal/fixlog"
	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/logger"
	"github.com/relabs-tech/car_tracker/internal/metrics"
	"github.com/relabs-tech/car_tracker/internal/transport"
)

// FixLog records each dispatched fix.
type FixLog interface {
	Append(timestamp string, f gps.Fix) error
}

// Options configures a Tracker. Only Period is required.
type Options struct {
	Period      time.Duration
	FirePolicy  FirePolicy
	SetupPolicy SetupPolicy
	FixLog      FixLog
	Clock       device.Clock
	Metrics     metrics.Recorder
	Logger      logger.Logger
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Tracker relays fixes from one source to an ordered set of sinks every
// period. Cycles run one at a time on the goroutine that called
// BeginTracking.
type Tracker struct {
	source gps.Source
	opts   Options

	// sinks is replaced once by BeginTracking; the loop goroutine reads it
	// without locking since it is the only writer.
	sinksMu sync.RWMutex
	sinks   []transport.Sink

	log logger.Logger

	state   atomic.Int32
	started atomic.Bool
	cycles  atomic.Uint64

	newTicker func(time.Duration) ticker
	now       func() time.Time
}

// New validates the collaborators and returns a tracker ready for
// BeginTracking.
func New(source gps.Source, sinks []transport.Sink, opts Options) (*Tracker, error) {
	if source == nil {
		return nil, errors.New("tracker: position source is required")
	}
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("tracker: period must be positive, got %s", opts.Period)
	}
	switch opts.FirePolicy {
	case "":
		opts.FirePolicy = FireImmediately
	case FireImmediately, FireDelayed:
	default:
		return nil, fmt.Errorf("tracker: unknown fire policy %q", opts.FirePolicy)
	}
	switch opts.SetupPolicy {
	case "":
		opts.SetupPolicy = SetupAbort
	case SetupAbort, SetupExclude:
	default:
		return nil, fmt.Errorf("tracker: unknown sink setup policy %q", opts.SetupPolicy)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger{}
	}

	t := &Tracker{
		source: source,
		sinks:  append([]transport.Sink(nil), sinks...),
		opts:   opts,
		log:    opts.Logger,
		newTicker: func(d time.Duration) ticker {
			return timeTicker{t: time.NewTicker(d)}
		},
		now: time.Now,
	}
	t.state.Store(int32(Initializing))
	return t, nil
}

// State returns the current lifecycle state.
func (t *Tracker) State() State { return State(t.state.Load()) }

// Cycles returns the number of cycles run so far.
func (t *Tracker) Cycles() uint64 { return t.cycles.Load() }

// Sinks returns the sinks in dispatch order. After BeginTracking has armed
// the schedule, sinks excluded at setup are no longer listed.
func (t *Tracker) Sinks() []transport.Sink {
	t.sinksMu.RLock()
	defer t.sinksMu.RUnlock()
	return append([]transport.Sink(nil), t.sinks...)
}

func (t *Tracker) setState(s State) { t.state.Store(int32(s)) }

// BeginTracking sets up the source and then every sink in order, arms the
// periodic schedule and runs cycles until ctx is cancelled. On return every
// sink and the source have been closed. A cancelled context is a clean
// shutdown and yields nil.
func (t *Tracker) BeginTracking(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := t.source.Setup(ctx); err != nil {
		t.shutdown(nil)
		return fmt.Errorf("tracker: position source setup: %w", err)
	}
	t.log.Infof("position source ready")

	active, err := t.setupSinks(ctx)
	if err != nil {
		t.shutdown(active)
		return err
	}
	t.sinksMu.Lock()
	t.sinks = active
	t.sinksMu.Unlock()

	return t.run(ctx)
}

func (t *Tracker) setupSinks(ctx context.Context) ([]transport.Sink, error) {
	active := make([]transport.Sink, 0, len(t.sinks))
	for _, s := range t.sinks {
		err := s.Setup(ctx)
		if err == nil {
			t.log.Infof("sink %s ready", s.Name())
			active = append(active, s)
			continue
		}
		serr := &SinkSetupError{Sink: s.Name(), Err: err}
		if t.opts.SetupPolicy == SetupAbort {
			return active, serr
		}
		t.log.Warnf("excluding sink: %v", serr)
		if cerr := s.Close(); cerr != nil {
			t.log.Warnf("close sink %s: %v", s.Name(), cerr)
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: every sink failed setup", ErrNoSinks)
	}
	return active, nil
}

func (t *Tracker) run(ctx context.Context) error {
	tk := t.newTicker(t.opts.Period)
	defer t.shutdown(t.sinks)
	defer tk.Stop()

	t.setState(Armed)
	t.log.Infof("tracking armed: period %s, policy %s, %d sinks", t.opts.Period, t.opts.FirePolicy, len(t.sinks))

	if t.opts.FirePolicy == FireImmediately && ctx.Err() == nil {
		t.cycle(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			t.log.Infof("tracking stopped after %d cycles", t.Cycles())
			return nil
		case <-tk.C():
			if ctx.Err() != nil {
				continue
			}
			t.cycle(ctx)
		}
	}
}

// cycle reads one fix and hands it to every sink, then the fix log. It runs
// to completion even if ctx is cancelled meanwhile.
func (t *Tracker) cycle(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	start := t.now()
	t.setState(Firing)
	defer t.setState(Armed)

	fix, err := t.source.Fix()
	if err != nil {
		t.log.Warnf("skipping cycle: %v", err)
		t.opts.Metrics.RecordFixUnavailable()
		return
	}

	for _, s := range t.sinks {
		t.dispatch(ctx, s, fix)
	}
	t.appendLog(fix)

	t.cycles.Add(1)
	t.opts.Metrics.RecordCycle(t.now().Sub(start))
}

func (t *Tracker) dispatch(ctx context.Context, s transport.Sink, fix gps.Fix) {
	err := send(ctx, s, fix)
	switch {
	case err == nil:
		t.opts.Metrics.RecordSend(s.Name(), metrics.OutcomeSent)
	case errors.Is(err, transport.ErrQuotaExceeded):
		t.log.Warnf("sink %s: dropping fix %v: %v", s.Name(), fix, err)
		t.opts.Metrics.RecordSend(s.Name(), metrics.OutcomeQuotaExceeded)
	default:
		t.log.Errorf("sink %s: send failed: %v", s.Name(), err)
		t.opts.Metrics.RecordSend(s.Name(), metrics.OutcomeFailed)
	}
}

func send(ctx context.Context, s transport.Sink, fix gps.Fix) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Send(ctx, fix)
}

func (t *Tracker) appendLog(fix gps.Fix) {
	if t.opts.FixLog == nil {
		return
	}
	ts := fixlog.Placeholder
	if t.opts.Clock != nil {
		if now, ok := t.opts.Clock.Now(); ok {
			ts = now.UTC().Format(time.RFC3339)
		}
	}
	if err := t.opts.FixLog.Append(ts, fix); err != nil {
		t.log.Warnf("fix log append: %v", err)
		t.opts.Metrics.RecordLogAppend(false)
		return
	}
	t.opts.Metrics.RecordLogAppend(true)
}

// shutdown closes sinks in reverse order, then the source.
func (t *Tracker) shutdown(sinks []transport.Sink) {
	for i := len(sinks) - 1; i >= 0; i-- {
		if err := sinks[i].Close(); err != nil {
			t.log.Warnf("close sink %s: %v", sinks[i].Name(), err)
		}
	}
	if err := t.source.Close(); err != nil {
		t.log.Warnf("close position source: %v", err)
	}
	t.setState(Stopped)
}
