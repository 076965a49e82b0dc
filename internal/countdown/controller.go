// Package countdown drives the unseal state machine over wall-clock time.
//
// The Controller owns the target instant and is its only writer. Every tick
// trigger (ticker, Resume, Focus, a detected host suspension) goes through
// one serialized evaluation path; observers only ever see immutable
// Snapshots.
package countdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"unsealer/internal/eventbus"
	"unsealer/internal/schedule"
	"unsealer/internal/unseal"
	logx "unsealer/pkg/logx"
)

const DefaultInterval = 250 * time.Millisecond

// Settings are the countdown parameters read from configuration on every tick.
type Settings struct {
	Schedule      schedule.Schedule
	DisplayWindow time.Duration
	// TickInterval overrides Options.Interval when > 0.
	TickInterval time.Duration
}

// ConfigSource yields the current settings, or the error of the last
// configuration read.
type ConfigSource interface {
	Current() (Settings, error)
}

// SourceFunc adapts a function to ConfigSource.
type SourceFunc func() (Settings, error)

func (f SourceFunc) Current() (Settings, error) { return f() }

// Static is a ConfigSource that never changes.
func Static(s Settings) ConfigSource {
	return SourceFunc(func() (Settings, error) { return s, nil })
}

type Options struct {
	Interval time.Duration
	// SuspendThreshold is the wall-clock gap between loop iterations treated
	// as a host suspension. Zero means 4 x the active tick interval, which
	// follows the configured tick_interval.
	SuspendThreshold time.Duration
	Clock            Clock
	Log              logx.Logger
	// Bus receives lifecycle events (unsealed, rollover, config state, resume).
	Bus eventbus.Bus
}

type Controller struct {
	src   ConfigSource
	clock Clock
	log   logx.Logger
	warn  *logx.Throttle
	bus   eventbus.Bus

	defInterval time.Duration
	suspendMin  time.Duration // 0: derived from the active interval

	mu        sync.Mutex
	state     State
	target    time.Time
	sched     schedule.Schedule
	hasTarget bool
	interval  time.Duration
	announced time.Time // target whose unseal was already published
	baseCtx   context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	seq       uint64

	snap atomic.Pointer[Snapshot]
	wake chan string

	subsMu sync.Mutex
	subs   map[chan Snapshot]struct{}

	stopOnce sync.Once
}

func New(src ConfigSource, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	log := opts.Log.With(logx.String("comp", "countdown"))
	return &Controller{
		src:         src,
		clock:       opts.Clock,
		log:         log,
		warn:        logx.NewThrottle(log, 10*time.Second),
		bus:         opts.Bus,
		defInterval: opts.Interval,
		suspendMin:  opts.SuspendThreshold,
		interval:    opts.Interval,
		wake:        make(chan string, 1),
		subs:        map[chan Snapshot]struct{}{},
	}
}

// Start resolves the initial target and starts the tick loop.
//
// If the configuration is unusable the controller enters StateConfigInvalid,
// publishes a config-error frame, starts no loop and returns the error.
// Reinitialize retries once the configuration is fixed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateStopped:
		return ErrStopped
	case c.done != nil:
		return ErrAlreadyStarted
	}
	c.baseCtx = ctx
	now := c.clock.Now()
	if err := c.initLocked(now); err != nil {
		c.invalidateLocked(now, err)
		return err
	}
	c.startLoopLocked()
	return nil
}

func (c *Controller) initLocked(now time.Time) error {
	set, err := c.src.Current()
	if err != nil {
		return err
	}
	target, err := schedule.ResolveNextTarget(set.Schedule, now)
	if err != nil {
		return err
	}
	c.setTargetLocked(target, set)
	c.state = StateRunning
	c.log.Info("countdown started",
		logx.String("schedule", set.Schedule.String()),
		logx.Time("target", target),
		logx.Duration("display_window", set.DisplayWindow),
	)
	return nil
}

func (c *Controller) setTargetLocked(target time.Time, set Settings) {
	c.target = target
	c.sched = set.Schedule
	c.hasTarget = true
	c.interval = c.intervalFor(set)
}

func (c *Controller) intervalFor(set Settings) time.Duration {
	if set.TickInterval > 0 {
		return set.TickInterval
	}
	return c.defInterval
}

func (c *Controller) startLoopLocked() {
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done, c.interval)
}

func (c *Controller) loop(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()

	last := c.clock.Now()
	c.Tick(last)
	for {
		var reason string
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case reason = <-c.wake:
		}

		now := c.clock.Now()
		if gap := wallGap(last, now); reason == "" && gap > c.suspendThreshold(interval) {
			reason = "suspend"
			c.log.Info("clock gap detected; treating as resume", logx.Duration("gap", gap))
		}
		last = now
		if reason != "" {
			c.bus.Publish(eventbus.Event{Type: eventbus.Resumed, Time: now, Data: Transition{Reason: reason}})
		}
		c.Tick(now)

		if iv := c.currentInterval(); iv != interval {
			interval = iv
			t.Reset(interval)
			c.log.Debug("tick interval changed", logx.Duration("interval", interval))
		}
	}
}

func (c *Controller) suspendThreshold(interval time.Duration) time.Duration {
	if c.suspendMin > 0 {
		return c.suspendMin
	}
	return 4 * interval
}

func (c *Controller) currentInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Tick evaluates one clock sample. It is the single evaluation path for the
// loop and for callers driving the controller by hand (tests, tools).
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickLocked(now)
}

func (c *Controller) tickLocked(now time.Time) {
	if c.done == nil || c.state == StateStopped {
		// not started, halted on an invalid config, or stopped
		return
	}

	set, err := c.src.Current()
	if err != nil {
		c.invalidateLocked(now, err)
		return
	}
	if !c.hasTarget || !set.Schedule.Equal(c.sched) {
		target, err := schedule.ResolveNextTarget(set.Schedule, now)
		if err != nil {
			c.invalidateLocked(now, err)
			return
		}
		prev := c.target
		c.setTargetLocked(target, set)
		c.log.Info("schedule changed; target re-resolved",
			logx.String("schedule", set.Schedule.String()),
			logx.Time("target", target),
		)
		c.bus.Publish(eventbus.Event{Type: eventbus.Rollover, Time: now, Data: Transition{
			Target: target, Previous: prev, Schedule: set.Schedule.String(), Reason: "reconfigured",
		}})
	} else {
		c.interval = c.intervalFor(set)
	}
	if c.state == StateConfigInvalid {
		c.state = StateRunning
		c.log.Info("configuration valid again", logx.Time("target", c.target))
		c.bus.Publish(eventbus.Event{Type: eventbus.ConfigRestored, Time: now, Data: Transition{
			Target: c.target, Schedule: c.sched.String(),
		}})
	}

	st, err := unseal.Evaluate(c.target, now, c.sched, set.DisplayWindow)
	if err != nil {
		terr := &TransientEvaluationError{At: now, Err: err}
		c.warn.WarnAt(now, "tick dropped", logx.Err(terr))
		frame := c.Snapshot()
		frame.IsConfigValid = false
		frame.Error = terr.Error()
		frame.At = now
		c.publishLocked(frame)
		return
	}

	if st.Rollover() {
		prev := c.target
		c.target = *st.NextTarget
		c.log.Info("display window elapsed; target rolled over",
			logx.Time("previous", prev),
			logx.Time("target", c.target),
		)
		c.bus.Publish(eventbus.Event{Type: eventbus.Rollover, Time: now, Data: Transition{
			Target: c.target, Previous: prev, Schedule: c.sched.String(), Reason: "window_elapsed",
		}})
		// No frame for this tick: the next one is computed against the new target.
		return
	}

	if st.IsUnsealed && !c.announced.Equal(c.target) {
		c.announced = c.target
		c.log.Info("unsealed", logx.Time("target", c.target), logx.Bool("just", st.JustUnsealed))
		c.bus.Publish(eventbus.Event{Type: eventbus.Unsealed, Time: now, Data: Transition{
			Target: c.target, Schedule: c.sched.String(), Late: !st.JustUnsealed,
		}})
	}
	c.publishLocked(newFrame(c.target, now, st))
}

func (c *Controller) invalidateLocked(now time.Time, err error) {
	if c.state != StateConfigInvalid {
		c.state = StateConfigInvalid
		fields := []logx.Field{logx.Err(err)}
		var ise *schedule.InvalidScheduleError
		if errors.As(err, &ise) {
			fields = append(fields, logx.String("field", ise.Field))
		}
		c.log.Error("configuration invalid", fields...)
		c.bus.Publish(eventbus.Event{Type: eventbus.ConfigInvalid, Time: now, Data: Transition{
			Target: c.target, Reason: err.Error(),
		}})
	} else {
		c.warn.WarnAt(now, "configuration still invalid", logx.Err(err))
	}
	var target time.Time
	if c.hasTarget {
		target = c.target
	}
	c.publishLocked(configErrorFrame(target, now, err))
}

func (c *Controller) publishLocked(s Snapshot) {
	c.seq++
	s.Seq = c.seq
	c.snap.Store(&s)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		// Newest frame wins: a full subscriber loses its oldest frame.
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Resume forces an immediate tick (e.g. the viewer became visible again).
// Non-blocking; bursts coalesce into one tick.
func (c *Controller) Resume() { c.signal("resume") }

// Focus forces an immediate tick (e.g. the viewer window regained focus).
func (c *Controller) Focus() { c.signal("focus") }

func (c *Controller) signal(reason string) {
	select {
	case c.wake <- reason:
	default:
	}
}

// Reinitialize leaves StateConfigInvalid after the configuration was
// corrected. It re-resolves the target and restarts the loop if Start had
// halted. It is a no-op in any other state.
func (c *Controller) Reinitialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateStopped:
		return ErrStopped
	case StateUninitialized, StateRunning:
		return nil
	}

	now := c.clock.Now()
	if c.done != nil {
		// The loop is alive; an immediate tick recovers.
		c.tickLocked(now)
		return nil
	}
	if c.baseCtx == nil {
		return nil
	}
	if err := c.initLocked(now); err != nil {
		c.invalidateLocked(now, err)
		return err
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.ConfigRestored, Time: now, Data: Transition{
		Target: c.target, Schedule: c.sched.String(),
	}})
	c.startLoopLocked()
	return nil
}

// Snapshot returns the latest frame. Before the first frame it returns a
// config-error frame.
func (c *Controller) Snapshot() Snapshot {
	if s := c.snap.Load(); s != nil {
		return *s
	}
	return configErrorFrame(time.Time{}, time.Time{}, nil)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the owned target instant (zero until resolved).
func (c *Controller) Target() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Subscribe returns a channel of frames. A slow subscriber only ever misses
// superseded frames. The channel is closed by unsubscribe or Stop.
func (c *Controller) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	c.subsMu.Lock()
	if c.subs == nil {
		close(ch)
		c.subsMu.Unlock()
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.subsMu.Unlock()
		})
	}
}

// Stop cancels the ticker and signal listeners together and waits for the
// loop to exit. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.state = StateStopped
		cancel, done := c.cancel, c.done
		c.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}

		c.subsMu.Lock()
		for ch := range c.subs {
			close(ch)
		}
		c.subs = nil
		c.subsMu.Unlock()
		c.log.Info("countdown stopped")
	})
}
