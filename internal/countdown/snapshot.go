package countdown

import (
	"time"

	"unsealer/internal/phase"
	"unsealer/internal/unseal"
)

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateConfigInvalid
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateConfigInvalid:
		return "config_invalid"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is one render-ready frame. Snapshots are immutable once published.
//
// RemainingMs and the Hours/Minutes/Seconds split are magnitudes of
// target-now; the sign is carried by IsUnsealed. Hours is not wrapped at 24.
type Snapshot struct {
	RemainingMs int64 `json:"remaining_ms"`
	Hours       int64 `json:"h"`
	Minutes     int   `json:"m"`
	Seconds     int   `json:"s"`

	Phase     phase.Phase `json:"phase"`
	PhaseInfo phase.Info  `json:"phase_info"`

	IsUnsealed         bool `json:"is_unsealed"`
	JustUnsealed       bool `json:"just_unsealed"`
	ShouldShowFeedGrid bool `json:"should_show_feed_grid"`

	Target        time.Time `json:"target,omitzero"`
	IsConfigValid bool      `json:"is_config_valid"`
	Error         string    `json:"error,omitempty"`

	// At is the clock sample the frame was computed from.
	At  time.Time `json:"at"`
	Seq uint64    `json:"seq"`
}

func newFrame(target, now time.Time, st unseal.State) Snapshot {
	d := target.Sub(now)
	if d < 0 {
		d = -d
	}
	secs := int64(d / time.Second)
	info := phase.Classify(d.Seconds())
	return Snapshot{
		RemainingMs:        d.Milliseconds(),
		Hours:              secs / 3600,
		Minutes:            int(secs % 3600 / 60),
		Seconds:            int(secs % 60),
		Phase:              info.Phase,
		PhaseInfo:          info,
		IsUnsealed:         st.IsUnsealed,
		JustUnsealed:       st.JustUnsealed,
		ShouldShowFeedGrid: st.ShouldShowFeedGrid,
		Target:             target,
		IsConfigValid:      true,
		At:                 now,
	}
}

func configErrorFrame(target, now time.Time, err error) Snapshot {
	info := phase.ConfigErrorInfo()
	s := Snapshot{
		Phase:     info.Phase,
		PhaseInfo: info,
		Target:    target,
		At:        now,
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Transition is the payload of lifecycle events published on the bus.
type Transition struct {
	Target   time.Time `json:"target,omitzero"`
	Previous time.Time `json:"previous,omitzero"`
	Schedule string    `json:"schedule,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Late     bool      `json:"late,omitempty"`
}
