package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes which variant a Schedule holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindOneShot
	KindDaily
	KindWeekly
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindOneShot:
		return "oneshot"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	case KindCron:
		return "cron"
	default:
		return "invalid"
	}
}

// ErrInvalidSchedule is matched by every *InvalidScheduleError via errors.Is.
var ErrInvalidSchedule = errors.New("invalid schedule")

// InvalidScheduleError reports a malformed or self-contradictory schedule.
// It is a configuration-time error and is never retried per tick.
type InvalidScheduleError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *InvalidScheduleError) Error() string {
	var b strings.Builder
	b.WriteString("invalid schedule")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

func (e *InvalidScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }

func invalid(field, value, reason string) *InvalidScheduleError {
	return &InvalidScheduleError{Field: field, Value: value, Reason: reason}
}

// TimeOfDay is a wall-clock time in UTC with second precision.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 &&
		t.Minute >= 0 && t.Minute <= 59 &&
		t.Second >= 0 && t.Second <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// on returns the instant at this time of day on the UTC calendar date of day,
// shifted by offset whole days. time.Date normalizes overflowing days.
func (t TimeOfDay) on(day time.Time, offset int) time.Time {
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d+offset, t.Hour, t.Minute, t.Second, 0, time.UTC)
}

// Schedule is an immutable tagged variant:
// OneShot(instant) | Daily(timeOfDay) | Weekly(day, timeOfDay) | Cron(expr).
//
// The zero value is invalid; build schedules with the constructors or FromSpec.
type Schedule struct {
	kind    Kind
	instant time.Time
	at      TimeOfDay
	weekday time.Weekday

	cronExpr string
	cron     cron.Schedule
}

// OneShot fires exactly once at instant.
func OneShot(instant time.Time) Schedule {
	return Schedule{kind: KindOneShot, instant: instant.UTC()}
}

// Daily fires every day at the given UTC time of day.
func Daily(at TimeOfDay) Schedule {
	return Schedule{kind: KindDaily, at: at}
}

// Weekly fires every week on day at the given UTC time of day.
func Weekly(day time.Weekday, at TimeOfDay) Schedule {
	return Schedule{kind: KindWeekly, weekday: day, at: at}
}

// Cron parses a seconds-first cron expression (or a descriptor like "@daily").
// It is evaluated in UTC unless the expression carries its own CRON_TZ.
func Cron(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, invalid("cron", "", "expression required")
	}
	spec := expr
	if !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		spec = "CRON_TZ=UTC " + spec
	}
	sch, err := cronParser.Parse(spec)
	if err != nil {
		return Schedule{}, &InvalidScheduleError{Field: "cron", Value: expr, Err: err}
	}
	return Schedule{kind: KindCron, cronExpr: expr, cron: sch}, nil
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (s Schedule) Kind() Kind { return s.kind }

// IsRecurring reports whether the schedule rolls over to a next occurrence.
func (s Schedule) IsRecurring() bool {
	return s.kind == KindDaily || s.kind == KindWeekly || s.kind == KindCron
}

// Instant returns the one-shot target (zero for other kinds).
func (s Schedule) Instant() time.Time { return s.instant }

// At returns the time of day for daily/weekly schedules.
func (s Schedule) At() TimeOfDay { return s.at }

// Weekday returns the target day for weekly schedules.
func (s Schedule) Weekday() time.Weekday { return s.weekday }

// Equal reports whether two schedules describe the same occurrences.
func (s Schedule) Equal(o Schedule) bool {
	if s.kind != o.kind {
		return false
	}
	switch s.kind {
	case KindOneShot:
		return s.instant.Equal(o.instant)
	case KindDaily:
		return s.at == o.at
	case KindWeekly:
		return s.weekday == o.weekday && s.at == o.at
	case KindCron:
		return s.cronExpr == o.cronExpr
	default:
		return true
	}
}

// String renders the schedule in the configuration syntax it was parsed from.
func (s Schedule) String() string {
	switch s.kind {
	case KindOneShot:
		return "oneshot " + s.instant.Format(time.RFC3339Nano)
	case KindDaily:
		return "daily " + s.at.String()
	case KindWeekly:
		return fmt.Sprintf("weekly %d-%s", int(s.weekday), s.at.String())
	case KindCron:
		return "cron " + s.cronExpr
	default:
		return "invalid"
	}
}
