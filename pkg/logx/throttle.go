package logx

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits a noisy log site (e.g. a warning raised on every tick).
//
// Suppressed calls are counted and reported as "suppressed" on the next call that
// gets through, so operators can still tell how often the condition fired.
type Throttle struct {
	log Logger

	mu      sync.Mutex
	limiter *rate.Limiter

	suppressed atomic.Uint64
}

// NewThrottle allows at most one log line per every, with a burst of one.
func NewThrottle(log Logger, every time.Duration) *Throttle {
	if every <= 0 {
		every = time.Second
	}
	return &Throttle{log: log, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

func (t *Throttle) allow(now time.Time) bool {
	t.mu.Lock()
	ok := t.limiter.AllowN(now, 1)
	t.mu.Unlock()
	return ok
}

func (t *Throttle) Warn(msg string, fields ...Field) { t.WarnAt(time.Now(), msg, fields...) }

// WarnAt is Warn with an explicit clock sample (the limiter works off the given time).
func (t *Throttle) WarnAt(now time.Time, msg string, fields ...Field) {
	if t == nil {
		return
	}
	if !t.allow(now) {
		t.suppressed.Add(1)
		return
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	t.log.Warn(msg, fields...)
}

// Suppressed returns the number of calls dropped since the last emitted line.
func (t *Throttle) Suppressed() uint64 {
	if t == nil {
		return 0
	}
	return t.suppressed.Load()
}
