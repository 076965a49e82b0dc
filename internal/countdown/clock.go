package countdown

import "time"

// Clock is the controller's time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// wallGap is the wall-clock distance between two samples. The monotonic
// reading is stripped because it does not advance while the host is suspended.
func wallGap(from, to time.Time) time.Duration {
	return to.Round(0).Sub(from.Round(0))
}
