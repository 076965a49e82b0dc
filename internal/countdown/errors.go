package countdown

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStopped        = errors.New("countdown: controller stopped")
	ErrAlreadyStarted = errors.New("countdown: controller already started")
)

// TransientEvaluationError wraps the failure of a single tick. The tick is
// dropped and the loop keeps running.
type TransientEvaluationError struct {
	At  time.Time
	Err error
}

func (e *TransientEvaluationError) Error() string {
	return fmt.Sprintf("countdown: evaluation at %s failed: %v", e.At.Format(time.RFC3339), e.Err)
}

func (e *TransientEvaluationError) Unwrap() error { return e.Err }
