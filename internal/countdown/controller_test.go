package countdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"unsealer/internal/eventbus"
	"unsealer/internal/phase"
	"unsealer/internal/schedule"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

type mutableSource struct {
	mu  sync.Mutex
	set Settings
	err error
}

func (m *mutableSource) Current() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set, m.err
}

func (m *mutableSource) Update(s Settings, err error) {
	m.mu.Lock()
	m.set, m.err = s, err
	m.mu.Unlock()
}

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// startManual starts a controller whose ticker never fires during the test,
// so frames come only from the initial tick and explicit Tick calls.
func startManual(t *testing.T, src ConfigSource, now time.Time, bus eventbus.Bus) (*Controller, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: now}
	c := New(src, Options{Interval: time.Hour, Clock: clk, Bus: bus})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	waitFor(t, "initial frame", func() bool { return c.Snapshot().Seq >= 1 })
	return c, clk
}

func nextEvent(t *testing.T, ch <-chan eventbus.Event, want eventbus.Type) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestControllerCountsDown(t *testing.T) {
	t.Parallel()
	c, _ := startManual(t, Static(Settings{Schedule: schedule.OneShot(t0)}), t0.Add(-90500*time.Millisecond), nil)

	s := c.Snapshot()
	if !s.IsConfigValid || s.IsUnsealed || s.ShouldShowFeedGrid {
		t.Fatalf("unexpected frame: %+v", s)
	}
	if s.RemainingMs != 90500 || s.Hours != 0 || s.Minutes != 1 || s.Seconds != 30 {
		t.Fatalf("remaining = %dms %dh%dm%ds", s.RemainingMs, s.Hours, s.Minutes, s.Seconds)
	}
	if s.Phase != phase.Final || s.PhaseInfo.Phase != s.Phase {
		t.Fatalf("phase = %s", s.Phase)
	}
	if !s.Target.Equal(t0) || c.State() != StateRunning {
		t.Fatalf("target %s state %s", s.Target, c.State())
	}

	c.Tick(t0.Add(-50 * time.Hour))
	if s := c.Snapshot(); s.Hours != 50 || s.Phase != phase.Distant {
		t.Fatalf("hours = %d phase = %s", s.Hours, s.Phase)
	}
}

func TestControllerOneShotUnsealAnnouncedOnce(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	c, _ := startManual(t, Static(Settings{Schedule: schedule.OneShot(t0)}), t0.Add(-time.Second), bus)

	c.Tick(t0.Add(time.Second))
	s := c.Snapshot()
	if !s.IsUnsealed || !s.JustUnsealed || !s.ShouldShowFeedGrid {
		t.Fatalf("expected just unsealed: %+v", s)
	}
	if s.RemainingMs != 1000 || s.Phase != phase.Breach {
		t.Fatalf("magnitude frame = %dms %s", s.RemainingMs, s.Phase)
	}
	e := nextEvent(t, events, eventbus.Unsealed)
	if tr := e.Data.(Transition); !tr.Target.Equal(t0) || tr.Late {
		t.Fatalf("transition = %+v", tr)
	}

	c.Tick(t0.Add(5 * time.Second))
	if s := c.Snapshot(); !s.IsUnsealed || s.JustUnsealed {
		t.Fatalf("after 5s: %+v", s)
	}
	c.Tick(t0.Add(48 * time.Hour))
	if s := c.Snapshot(); !s.IsUnsealed {
		t.Fatal("one-shot must never re-seal")
	}
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.Unsealed {
			t.Fatal("unseal announced twice")
		}
	}
}

func TestControllerRolloverSkipsFrame(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	src := Static(Settings{Schedule: schedule.Daily(schedule.TimeOfDay{}), DisplayWindow: 5 * time.Second})
	c, _ := startManual(t, src, t0.Add(-2*time.Second), bus)

	c.Tick(t0.Add(2 * time.Second))
	shown := c.Snapshot()
	if !shown.IsUnsealed || !shown.JustUnsealed {
		t.Fatalf("expected reveal: %+v", shown)
	}

	c.Tick(t0.Add(10 * time.Second))
	if got := c.Snapshot(); got.Seq != shown.Seq {
		t.Fatalf("rollover tick emitted a frame: %+v", got)
	}
	next := t0.Add(24 * time.Hour)
	if !c.Target().Equal(next) {
		t.Fatalf("target = %s, want %s", c.Target(), next)
	}
	e := nextEvent(t, events, eventbus.Rollover)
	if tr := e.Data.(Transition); !tr.Previous.Equal(t0) || !tr.Target.Equal(next) {
		t.Fatalf("transition = %+v", tr)
	}

	c.Tick(t0.Add(11 * time.Second))
	s := c.Snapshot()
	if s.IsUnsealed || s.ShouldShowFeedGrid || !s.Target.Equal(next) {
		t.Fatalf("after rollover: %+v", s)
	}
	if want := (24*time.Hour - 11*time.Second).Milliseconds(); s.RemainingMs != want {
		t.Fatalf("RemainingMs = %d, want %d", s.RemainingMs, want)
	}
}

func TestControllerStartInvalidConfig(t *testing.T) {
	t.Parallel()
	src := &mutableSource{set: Settings{Schedule: schedule.Daily(schedule.TimeOfDay{Hour: 99})}}
	clk := &fakeClock{t: t0}
	c := New(src, Options{Interval: time.Hour, Clock: clk})
	defer c.Stop()

	err := c.Start(context.Background())
	if !errors.Is(err, schedule.ErrInvalidSchedule) {
		t.Fatalf("Start = %v, want ErrInvalidSchedule", err)
	}
	if c.State() != StateConfigInvalid {
		t.Fatalf("state = %s", c.State())
	}
	s := c.Snapshot()
	if s.IsConfigValid || s.Phase != phase.ConfigError || s.PhaseInfo.Name != "Configuration Error" {
		t.Fatalf("frame = %+v", s)
	}

	c.Tick(t0.Add(time.Second))
	if c.Snapshot().Seq != s.Seq {
		t.Fatal("halted controller must not tick")
	}
	if err := c.Start(context.Background()); err == nil {
		// A second Start is allowed to retry while halted; it must fail again here.
		t.Fatal("expected Start to fail again")
	}

	src.Update(Settings{Schedule: schedule.Daily(schedule.TimeOfDay{Hour: 12})}, nil)
	if err := c.Reinitialize(); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}
	if c.State() != StateRunning {
		t.Fatalf("state = %s", c.State())
	}
	waitFor(t, "valid frame", func() bool { return c.Snapshot().IsConfigValid })
	if want := t0.Add(12 * time.Hour); !c.Target().Equal(want) {
		t.Fatalf("target = %s, want %s", c.Target(), want)
	}
}

func TestControllerConfigReadFailureKeepsTicking(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	src := &mutableSource{set: Settings{Schedule: schedule.OneShot(t0)}}
	c, _ := startManual(t, src, t0.Add(-time.Hour), bus)

	src.Update(src.set, errors.New("parse error"))
	c.Tick(t0.Add(-59 * time.Minute))
	s := c.Snapshot()
	if s.IsConfigValid || s.Phase != phase.ConfigError || !strings.Contains(s.Error, "parse error") {
		t.Fatalf("frame = %+v", s)
	}
	if c.State() != StateConfigInvalid {
		t.Fatalf("state = %s", c.State())
	}
	nextEvent(t, events, eventbus.ConfigInvalid)

	c.Tick(t0.Add(-58 * time.Minute))
	if c.Snapshot().Seq != s.Seq+1 {
		t.Fatal("invalid frames keep flowing while the loop is alive")
	}

	src.Update(Settings{Schedule: schedule.OneShot(t0)}, nil)
	c.Tick(t0.Add(-57 * time.Minute))
	if s := c.Snapshot(); !s.IsConfigValid || s.Minutes != 57 {
		t.Fatalf("recovered frame = %+v", s)
	}
	if c.State() != StateRunning {
		t.Fatalf("state = %s", c.State())
	}
	nextEvent(t, events, eventbus.ConfigRestored)
}

func TestControllerScheduleChangeReResolves(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	src := &mutableSource{set: Settings{Schedule: schedule.Daily(schedule.TimeOfDay{Hour: 12}), DisplayWindow: time.Minute}}
	c, _ := startManual(t, src, now, nil)
	if want := now.Add(2 * time.Hour); !c.Target().Equal(want) {
		t.Fatalf("target = %s, want %s", c.Target(), want)
	}

	src.Update(Settings{Schedule: schedule.Daily(schedule.TimeOfDay{Hour: 18}), DisplayWindow: time.Minute}, nil)
	c.Tick(now.Add(time.Minute))
	if want := now.Add(8 * time.Hour); !c.Target().Equal(want) || !c.Snapshot().Target.Equal(want) {
		t.Fatalf("target = %s, want %s", c.Target(), want)
	}
}

func TestControllerResumeForcesTick(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	c, clk := startManual(t, Static(Settings{Schedule: schedule.OneShot(t0)}), t0.Add(-time.Hour), bus)
	frames, stop := c.Subscribe(4)
	defer stop()

	later := t0.Add(-30 * time.Minute)
	clk.Set(later)
	c.Resume()
	c.Focus() // coalesced or a second tick; either is fine

	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-frames:
			if s.At.Equal(later) {
				if s.Minutes != 30 {
					t.Fatalf("frame = %+v", s)
				}
				if tr := nextEvent(t, events, eventbus.Resumed).Data.(Transition); tr.Reason != "resume" {
					t.Fatalf("reason = %q", tr.Reason)
				}
				return
			}
		case <-timeout:
			t.Fatal("Resume did not force a tick")
		}
	}
}

func TestControllerDetectsSuspension(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()
	clk := &fakeClock{t: t0.Add(-2 * time.Hour)}
	c := New(Static(Settings{Schedule: schedule.OneShot(t0)}), Options{
		Interval:         5 * time.Millisecond,
		SuspendThreshold: time.Minute,
		Clock:            clk,
		Bus:              bus,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	waitFor(t, "initial frame", func() bool { return c.Snapshot().Seq >= 1 })

	clk.Set(t0.Add(-time.Hour))
	e := nextEvent(t, events, eventbus.Resumed)
	if tr := e.Data.(Transition); tr.Reason != "suspend" {
		t.Fatalf("reason = %q", tr.Reason)
	}
	waitFor(t, "post-resume frame", func() bool { return c.Snapshot().Hours == 1 && c.Snapshot().Minutes == 0 })
}

func TestSuspendThresholdFollowsTickInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		fixed    time.Duration
		interval time.Duration
		want     time.Duration
	}{
		{name: "derived from default", interval: DefaultInterval, want: 4 * DefaultInterval},
		{name: "derived from configured", interval: 30 * time.Second, want: 2 * time.Minute},
		{name: "explicit wins", fixed: time.Minute, interval: 30 * time.Second, want: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(Static(Settings{Schedule: schedule.OneShot(t0)}), Options{SuspendThreshold: tt.fixed})
			if got := c.suspendThreshold(tt.interval); got != tt.want {
				t.Fatalf("threshold = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestControllerSlowTickIsNotSuspension(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256)
	defer unsub()
	target := time.Now().Add(time.Hour)
	c := New(Static(Settings{Schedule: schedule.OneShot(target), TickInterval: 40 * time.Millisecond}), Options{
		Interval: 5 * time.Millisecond,
		Bus:      bus,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	waitFor(t, "several slow ticks", func() bool { return c.Snapshot().Seq >= 6 })

	for {
		select {
		case e := <-events:
			if e.Type == eventbus.Resumed {
				t.Fatalf("normal tick reported as resume: %+v", e.Data)
			}
		default:
			return
		}
	}
}

func TestControllerStopIdempotent(t *testing.T) {
	t.Parallel()
	c, _ := startManual(t, Static(Settings{Schedule: schedule.OneShot(t0)}), t0.Add(-time.Hour), nil)
	frames, _ := c.Subscribe(1)

	c.Stop()
	c.Stop()
	if c.State() != StateStopped {
		t.Fatalf("state = %s", c.State())
	}
	for range frames {
	}
	seq := c.Snapshot().Seq
	c.Tick(t0)
	c.Resume()
	if c.Snapshot().Seq != seq {
		t.Fatal("stopped controller must not tick")
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop = %v", err)
	}
	if err := c.Reinitialize(); !errors.Is(err, ErrStopped) {
		t.Fatalf("Reinitialize after Stop = %v", err)
	}
	if ch, _ := c.Subscribe(1); ch == nil {
		t.Fatal("Subscribe after Stop should return a closed channel")
	} else if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestControllerSnapshotBeforeStart(t *testing.T) {
	t.Parallel()
	c := New(Static(Settings{Schedule: schedule.OneShot(t0)}), Options{})
	if s := c.Snapshot(); s.IsConfigValid || s.Phase != phase.ConfigError {
		t.Fatalf("frame = %+v", s)
	}
	if c.State() != StateUninitialized {
		t.Fatalf("state = %s", c.State())
	}
	c.Stop()
}

func TestTransientEvaluationError(t *testing.T) {
	t.Parallel()
	inner := errors.New("resolve failed")
	err := error(&TransientEvaluationError{At: t0, Err: inner})
	if !errors.Is(err, inner) {
		t.Fatal("should unwrap to the cause")
	}
	var te *TransientEvaluationError
	if !errors.As(err, &te) || !te.At.Equal(t0) {
		t.Fatalf("errors.As failed: %v", err)
	}
}
