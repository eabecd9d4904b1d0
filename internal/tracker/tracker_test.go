package tracker

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/car_tracker/internal/device"
	"github.com/relabs-tech/car_tracker/internal/fixlog"
	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/metrics"
	"github.com/relabs-tech/car_tracker/internal/transport"
)

var home = gps.Fix{Latitude: 51.80332, Longitude: -0.17852}

type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

type fakeSource struct {
	ev       *events
	setupErr error

	mu     sync.Mutex
	fix    gps.Fix
	fixErr error
}

func (s *fakeSource) Setup(context.Context) error {
	s.ev.add("source:setup")
	return s.setupErr
}

func (s *fakeSource) Fix() (gps.Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix, s.fixErr
}

func (s *fakeSource) set(f gps.Fix, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fix, s.fixErr = f, err
}

func (s *fakeSource) Close() error {
	s.ev.add("source:close")
	return nil
}

type fakeSink struct {
	name     string
	ev       *events
	setupErr error
	sendErr  error
	panics   bool
	delay    time.Duration
	onSend   func()

	mu  sync.Mutex
	got []gps.Fix
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Setup(context.Context) error {
	s.ev.add(s.name + ":setup")
	return s.setupErr
}

func (s *fakeSink) Send(_ context.Context, f gps.Fix) error {
	if s.onSend != nil {
		s.onSend()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.got = append(s.got, f)
	s.mu.Unlock()
	if s.panics {
		panic("boom")
	}
	return s.sendErr
}

func (s *fakeSink) Close() error {
	s.ev.add(s.name + ":close")
	return nil
}

func (s *fakeSink) received() []gps.Fix {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gps.Fix(nil), s.got...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	cycles      int
	sends       map[string][]string
	logOK       int
	logFailed   int
	unavailable int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{sends: map[string][]string{}}
}

func (r *fakeRecorder) RecordCycle(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
}

func (r *fakeRecorder) RecordSend(sink, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends[sink] = append(r.sends[sink], outcome)
}

func (r *fakeRecorder) RecordLogAppend(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.logOK++
	} else {
		r.logFailed++
	}
}

func (r *fakeRecorder) RecordFixUnavailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable++
}

type fakeFixLog struct {
	mu      sync.Mutex
	err     error
	entries []string
}

func (l *fakeFixLog) Append(ts string, f gps.Fix) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, fixlog.FormatEntry(ts, f))
	return nil
}

type fixedClock struct {
	t  time.Time
	ok bool
}

func (c fixedClock) Now() (time.Time, bool) { return c.t, c.ok }

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

// tick blocks until the loop has taken the tick.
func (m *manualTicker) tick() { m.ch <- time.Now() }

func withManualTicker(tr *Tracker, ev *events) *manualTicker {
	mt := &manualTicker{ch: make(chan time.Time)}
	tr.newTicker = func(time.Duration) ticker {
		if ev != nil {
			ev.add("ticker")
		}
		return mt
	}
	return mt
}

// start runs BeginTracking in the background and returns a function that
// cancels it and waits for the result.
func start(t *testing.T, tr *Tracker) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tr.BeginTracking(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("tracker did not stop")
			return nil
		}
	}
}

func waitCycles(t *testing.T, tr *Tracker, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Cycles() == n }, time.Second, time.Millisecond)
}

func TestNewValidates(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev}
	sink := &fakeSink{name: "a", ev: ev}

	_, err := New(src, nil, Options{Period: time.Minute})
	assert.ErrorIs(t, err, ErrNoSinks)

	_, err = New(src, []transport.Sink{sink}, Options{})
	assert.Error(t, err)

	_, err = New(src, []transport.Sink{sink}, Options{Period: -time.Second})
	assert.Error(t, err)

	_, err = New(nil, []transport.Sink{sink}, Options{Period: time.Minute})
	assert.Error(t, err)

	_, err = New(src, []transport.Sink{sink}, Options{Period: time.Minute, FirePolicy: "sometimes"})
	assert.Error(t, err)

	_, err = New(src, []transport.Sink{sink}, Options{Period: time.Minute, SetupPolicy: "ignore"})
	assert.Error(t, err)

	tr, err := New(src, []transport.Sink{sink}, Options{Period: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, Initializing, tr.State())
	assert.Empty(t, ev.snapshot(), "construction must not touch devices")
}

func TestBeginTrackingSetsUpInOrderBeforeArming(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fix: home}
	a := &fakeSink{name: "a", ev: ev}
	b := &fakeSink{name: "b", ev: ev}

	tr, err := New(src, []transport.Sink{a, b}, Options{Period: time.Minute, FirePolicy: FireDelayed})
	require.NoError(t, err)
	mt := withManualTicker(tr, ev)

	stop := start(t, tr)
	require.Eventually(t, func() bool { return tr.State() == Armed }, time.Second, time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []string{
		"source:setup", "a:setup", "b:setup", "ticker",
		"b:close", "a:close", "source:close",
	}, ev.snapshot())
	assert.True(t, mt.stopped.Load())
	assert.Equal(t, Stopped, tr.State())
}

func TestImmediatePolicyFiresOnArming(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fix: home}
	a := &fakeSink{name: "a", ev: ev}

	tr, err := New(src, []transport.Sink{a}, Options{Period: time.Hour, FirePolicy: FireImmediately})
	require.NoError(t, err)
	mt := withManualTicker(tr, nil)

	stop := start(t, tr)
	waitCycles(t, tr, 1)
	mt.tick()
	waitCycles(t, tr, 2)
	require.NoError(t, stop())

	assert.Equal(t, []gps.Fix{home, home}, a.received())
}

func TestDelayedPolicyWaitsOnePeriod(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fix: home}
	a := &fakeSink{name: "a", ev: ev}

	tr, err := New(src, []transport.Sink{a}, Options{Period: time.Hour, FirePolicy: FireDelayed})
	require.NoError(t, err)
	mt := withManualTicker(tr, nil)

	stop := start(t, tr)
	require.Eventually(t, func() bool { return tr.State() == Armed }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return tr.Cycles() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	mt.tick()
	waitCycles(t, tr, 1)
	require.NoError(t, stop())
	assert.Len(t, a.received(), 1)
}

func TestCycleCountFollowsTicks(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fix: home}
	a := &fakeSink{name: "a", ev: ev}
	b := &fakeSink{name: "b", ev: ev}
	rec := newFakeRecorder()

	tr, err := New(src, []transport.Sink{a, b}, Options{Period: time.Hour, FirePolicy: FireDelayed, Metrics: rec})
	require.NoError(t, err)
	mt := withManualTicker(tr, nil)

	stop := start(t, tr)
	for i := 0; i < 5; i++ {
		mt.tick()
	}
	waitCycles(t, tr, 5)
	require.NoError(t, stop())

	assert.Len(t, a.received(), 5)
	assert.Equal(t, a.received(), b.received())
	assert.Equal(t, 5, rec.cycles)
	assert.Len(t, rec.sends["a"], 5)
}

func TestSinkFailuresAreIsolated(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fix: home}
	rec := newFakeRecorder()
	log := &fakeFixLog{}

	var tr *Tracker
	var firing atomic.Bool
	first := &fakeSink{name: "first", ev: ev, onSend: func() { firing.Store(tr.State() == Firing) }}
	failing := &fakeSink{name: "failing", ev: ev, sendErr: errors.New("link down")}
	panicking := &fakeSink{name: "panicking", ev: ev, panics: true}
	limited := &fakeSink{name: "limited", ev: ev, sendErr: fmt.Errorf("narrowband: %w", transport.ErrQuotaExceeded)}
	last := &fakeSink{name: "last", ev: ev}
	sinks := []transport.Sink{first, failing, panicking, limited, last}

	tr, err := New(src, sinks, Options{Period: time.Hour, Metrics: rec, FixLog: log})
	require.NoError(t, err)
	withManualTicker(tr, nil)

	stop := start(t, tr)
	waitCycles(t, tr, 1)
	require.NoError(t, stop())

	for _, s := range []*fakeSink{first, failing, panicking, limited, last} {
		assert.Equal(t, []gps.Fix{home}, s.received(), s.name)
	}
	assert.True(t, firing.Load(), "state is firing while dispatching")
	assert.Equal(t, []string{metrics.OutcomeSent}, rec.sends["first"])
	assert.Equal(t, []string{metrics.OutcomeFailed}, rec.sends["failing"])
	assert.Equal(t, []string{metrics.OutcomeFailed}, rec.sends["panicking"])
	assert.Equal(t, []string{metrics.OutcomeQuotaExceeded}, rec.sends["limited"])
	assert.Equal(t, []string{metrics.OutcomeSent}, rec.sends["last"])
	assert.Len(t, log.entries, 1)
	assert.Equal(t, Stopped, tr.State())
}

func TestMissingFixSkipsCycle(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fixErr: gps.ErrUnavailable}
	a := &fakeSink{name: "a", ev: ev}
	rec := newFakeRecorder()
	log := &fakeFixLog{}

	tr, err := New(src, []transport.Sink{a}, Options{Period: time.Hour, FirePolicy: FireDelayed, Metrics: rec, FixLog: log})
	require.NoError(t, err)
	mt := withManualTicker(tr, nil)

	stop := start(t, tr)
	mt.tick()
	mt.tick()
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.unavailable == 2
	}, time.Second, time.Millisecond)
	src.set(home, nil)
	mt.tick()
	waitCycles(t, tr, 1)
	require.NoError(t, stop())

	assert.Equal(t, []gps.Fix{home}, a.received())
	assert.Equal(t, 2, rec.unavailable)
	assert.Len(t, log.entries, 1)
}

func TestFixLogTimestamps(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 45, 0, 0, time.UTC)
	tests := []struct {
		name  string
		clock device.Clock
		want  string
	}{
		{name: "synced", clock: fixedClock{t: at, ok: true}, want: "2026-10-19T09:45:00Z (51.80332, -0.17852)"},
		{name: "unsynced", clock: fixedClock{t: at}, want: fixlog.Placeholder + " (51.80332, -0.17852)"},
		{name: "no clock", want: fixlog.Placeholder + " (51.80332, -0.17852)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := &events{}
			log := &fakeFixLog{}
			opts := Options{Period: time.Hour, FixLog: log, Clock: tc.clock}
			tr, err := New(&fakeSource{ev: ev, fix: home}, []transport.Sink{&fakeSink{name: "a", ev: ev}}, opts)
			require.NoError(t, err)
			withManualTicker(tr, nil)

			stop := start(t, tr)
			waitCycles(t, tr, 1)
			require.NoError(t, stop())

			require.Len(t, log.entries, 1)
			assert.Equal(t, tc.want+"\n", log.entries[0])
		})
	}
}

func TestFixLogFailureIsSwallowed(t *testing.T) {
	ev := &events{}
	a := &fakeSink{name: "a", ev: ev}
	rec := newFakeRecorder()
	log := &fakeFixLog{err: errors.New("disk full")}

	tr, err := New(&fakeSource{ev: ev, fix: home}, []transport.Sink{a}, Options{Period: time.Hour, FixLog: log, Metrics: rec})
	require.NoError(t, err)
	mt := withManualTicker(tr, nil)

	stop := start(t, tr)
	waitCycles(t, tr, 1)
	mt.tick()
	waitCycles(t, tr, 2)
	require.NoError(t, stop())

	assert.Len(t, a.received(), 2)
	assert.Equal(t, 2, rec.logFailed)
	assert.Zero(t, rec.logOK)
}

func TestSinkSetupAbort(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fix: home}
	a := &fakeSink{name: "a", ev: ev}
	b := &fakeSink{name: "b", ev: ev, setupErr: errors.New("no modem")}
	c := &fakeSink{name: "c", ev: ev}

	tr, err := New(src, []transport.Sink{a, b, c}, Options{Period: time.Hour})
	require.NoError(t, err)
	withManualTicker(tr, ev)

	err = tr.BeginTracking(context.Background())
	var serr *SinkSetupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "b", serr.Sink)
	assert.EqualError(t, serr.Err, "no modem")

	assert.Equal(t, []string{"source:setup", "a:setup", "b:setup", "a:close", "source:close"}, ev.snapshot())
	assert.Equal(t, Stopped, tr.State())
	assert.Empty(t, a.received())
}

func TestSinkSetupExclude(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, fix: home}
	a := &fakeSink{name: "a", ev: ev}
	b := &fakeSink{name: "b", ev: ev, setupErr: errors.New("no broker")}
	c := &fakeSink{name: "c", ev: ev}

	tr, err := New(src, []transport.Sink{a, b, c}, Options{Period: time.Hour, SetupPolicy: SetupExclude})
	require.NoError(t, err)
	withManualTicker(tr, nil)

	stop := start(t, tr)
	waitCycles(t, tr, 1)
	require.NoError(t, stop())

	assert.Equal(t, []gps.Fix{home}, a.received())
	assert.Empty(t, b.received())
	assert.Equal(t, []gps.Fix{home}, c.received())
	assert.Equal(t, []string{
		"source:setup", "a:setup", "b:setup", "b:close", "c:setup",
		"c:close", "a:close", "source:close",
	}, ev.snapshot())
}

func TestSinkSetupExcludeAllFails(t *testing.T) {
	ev := &events{}
	a := &fakeSink{name: "a", ev: ev, setupErr: errors.New("no modem")}

	tr, err := New(&fakeSource{ev: ev}, []transport.Sink{a}, Options{Period: time.Hour, SetupPolicy: SetupExclude})
	require.NoError(t, err)

	err = tr.BeginTracking(context.Background())
	assert.ErrorIs(t, err, ErrNoSinks)
	assert.Equal(t, Stopped, tr.State())
}

func TestSourceSetupFailureIsFatal(t *testing.T) {
	ev := &events{}
	src := &fakeSource{ev: ev, setupErr: gps.ErrAcquisitionTimeout}
	a := &fakeSink{name: "a", ev: ev}

	tr, err := New(src, []transport.Sink{a}, Options{Period: time.Hour})
	require.NoError(t, err)

	err = tr.BeginTracking(context.Background())
	assert.ErrorIs(t, err, gps.ErrAcquisitionTimeout)
	assert.Equal(t, []string{"source:setup", "source:close"}, ev.snapshot())
	assert.Equal(t, Stopped, tr.State())
}

func TestBeginTrackingOnlyOnce(t *testing.T) {
	ev := &events{}
	tr, err := New(&fakeSource{ev: ev, fix: home}, []transport.Sink{&fakeSink{name: "a", ev: ev}}, Options{Period: time.Hour})
	require.NoError(t, err)
	withManualTicker(tr, nil)

	stop := start(t, tr)
	waitCycles(t, tr, 1)
	require.NoError(t, stop())

	assert.ErrorIs(t, tr.BeginTracking(context.Background()), ErrAlreadyStarted)
}

func TestCyclesNeverOverlap(t *testing.T) {
	ev := &events{}
	var inFlight, maxInFlight atomic.Int32
	slow := &fakeSink{name: "slow", ev: ev, delay: 10 * time.Millisecond}
	slow.onSend = func() {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
	}
	done := &fakeSink{name: "done", ev: ev}
	done.onSend = func() { inFlight.Add(-1) }

	tr, err := New(&fakeSource{ev: ev, fix: home}, []transport.Sink{slow, done}, Options{Period: 2 * time.Millisecond})
	require.NoError(t, err)

	stop := start(t, tr)
	require.Eventually(t, func() bool { return tr.Cycles() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, stop())

	assert.EqualValues(t, 1, maxInFlight.Load())
	assert.Equal(t, len(slow.received()), len(done.received()))
}

type recordingRadio struct {
	mu     sync.Mutex
	frames []string
	closed bool
}

func (r *recordingRadio) Transmit(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, hex.EncodeToString(p))
	return nil
}

func (r *recordingRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestNarrowbandAndConsoleReceiveSameFix(t *testing.T) {
	ev := &events{}
	radio := &recordingRadio{}
	narrowband := transport.NewNarrowbandWithRadio(transport.NarrowbandConfig{}, radio, nil, nil)
	var out bytes.Buffer
	console := transport.NewConsole(&out)
	rec := newFakeRecorder()

	tr, err := New(&fakeSource{ev: ev, fix: home}, []transport.Sink{narrowband, console}, Options{Period: time.Hour, Metrics: rec})
	require.NoError(t, err)
	mt := withManualTicker(tr, nil)

	stop := start(t, tr)
	waitCycles(t, tr, 1)
	mt.tick()
	mt.tick()
	waitCycles(t, tr, 3)
	require.NoError(t, stop())

	assert.Equal(t, []string{"004f0bacffffba44", "004f0bacffffba44", "004f0bacffffba44"}, radio.frames)
	assert.True(t, radio.closed)
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Contains(t, line, "lat=51.80332 lon=-0.17852")
	}
	assert.Equal(t, []string{metrics.OutcomeSent, metrics.OutcomeSent, metrics.OutcomeSent}, rec.sends[string(transport.KindNarrowband)])
}

func TestSinksReadableDuringStartup(t *testing.T) {
	ev := &events{}
	release := make(chan struct{})
	a := &fakeSink{name: "a", ev: ev}
	b := &blockingSetupSink{
		fakeSink: fakeSink{name: "b", ev: ev, setupErr: errors.New("no broker")},
		release:  release,
		entered:  make(chan struct{}),
	}
	c := &fakeSink{name: "c", ev: ev}

	tr, err := New(&fakeSource{ev: ev, fix: home}, []transport.Sink{a, b, c}, Options{Period: time.Hour, FirePolicy: FireDelayed, SetupPolicy: SetupExclude})
	require.NoError(t, err)
	withManualTicker(tr, nil)

	stop := start(t, tr)
	<-b.entered
	assert.Len(t, tr.Sinks(), 3, "registered sinks until armed")
	close(release)

	require.Eventually(t, func() bool { return tr.State() == Armed }, time.Second, time.Millisecond)
	names := []string{}
	for _, s := range tr.Sinks() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"a", "c"}, names)
	require.NoError(t, stop())
}

type blockingSetupSink struct {
	fakeSink
	release chan struct{}
	entered chan struct{}
}

func (s *blockingSetupSink) Setup(ctx context.Context) error {
	close(s.entered)
	<-s.release
	return s.fakeSink.Setup(ctx)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "firing", Firing.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
