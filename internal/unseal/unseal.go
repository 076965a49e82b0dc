// Package unseal decides, for one clock sample, whether the reveal is visible.
//
// Evaluate is pure. "Just unsealed" is re-derived from elapsed time on every call
// instead of being latched, so a caller that misses ticks (suspended process,
// throttled timer) still sees the right value when it wakes up.
package unseal

import (
	"fmt"
	"time"

	"unsealer/internal/schedule"
)

// JustUnsealedWindow is how long after crossing zero JustUnsealed stays true.
const JustUnsealedWindow = 3 * time.Second

// State is the result of one evaluation.
type State struct {
	IsUnsealed         bool
	JustUnsealed       bool
	ShouldShowFeedGrid bool

	// NextTarget is set only when a recurring display window has elapsed and the
	// caller must roll its target forward.
	NextTarget *time.Time
	// TimeRemaining is target-now while sealed, zero while the reveal is shown,
	// and NextTarget-now after a rollover.
	TimeRemaining *time.Duration
}

// Rollover reports whether the caller must replace its target with NextTarget.
func (s State) Rollover() bool { return s.NextTarget != nil }

// Evaluate computes the unseal state of target at now.
//
// In recurring mode the reveal stays visible for window after the target and is
// then sealed again; that evaluation resolves the next occurrence from now.
// A negative window behaves as zero.
func Evaluate(target, now time.Time, s schedule.Schedule, window time.Duration) (State, error) {
	remaining := target.Sub(now)
	if remaining > 0 {
		return State{TimeRemaining: durPtr(remaining)}, nil
	}

	elapsed := -remaining

	if !s.IsRecurring() {
		return State{
			IsUnsealed:         true,
			JustUnsealed:       elapsed < JustUnsealedWindow,
			ShouldShowFeedGrid: true,
			TimeRemaining:      durPtr(0),
		}, nil
	}

	if window < 0 {
		window = 0
	}
	if elapsed <= window {
		return State{
			IsUnsealed:         true,
			JustUnsealed:       elapsed < JustUnsealedWindow,
			ShouldShowFeedGrid: true,
			TimeRemaining:      durPtr(0),
		}, nil
	}

	next, err := schedule.ResolveNextTarget(s, now)
	if err != nil {
		return State{}, fmt.Errorf("resolve next occurrence: %w", err)
	}
	return State{
		NextTarget:    &next,
		TimeRemaining: durPtr(next.Sub(now)),
	}, nil
}

func durPtr(d time.Duration) *time.Duration { return &d }
