package schedule

import (
	"fmt"
	"time"
)

// ResolveNextTarget returns the next target instant for s as seen at now.
//
// Recurring kinds always return an instant strictly after now: a target equal to
// now counts as already passed, so the boundary tick never re-triggers.
// One-shot schedules return the configured instant verbatim, past or future.
func ResolveNextTarget(s Schedule, now time.Time) (time.Time, error) {
	now = now.UTC()

	switch s.kind {
	case KindOneShot:
		if s.instant.IsZero() {
			return time.Time{}, invalid("target_utc_iso", "", "instant required")
		}
		return s.instant, nil

	case KindDaily:
		if !s.at.valid() {
			return time.Time{}, invalid("daily_utc", s.at.String(), "time of day out of range")
		}
		target := s.at.on(now, 0)
		if !target.After(now) {
			target = s.at.on(now, 1)
		}
		return target, nil

	case KindWeekly:
		if !s.at.valid() {
			return time.Time{}, invalid("weekly_utc", s.at.String(), "time of day out of range")
		}
		if s.weekday < time.Sunday || s.weekday > time.Saturday {
			return time.Time{}, invalid("weekly_utc", fmt.Sprint(int(s.weekday)), "day of week must be 0-6")
		}
		offset := int(s.weekday) - int(now.Weekday())
		if offset == 0 {
			today := s.at.on(now, 0)
			if today.After(now) {
				return today, nil
			}
			offset = 7
		}
		if offset < 0 {
			offset += 7
		}
		return s.at.on(now, offset), nil

	case KindCron:
		if s.cron == nil {
			return time.Time{}, invalid("cron", s.cronExpr, "expression not parsed")
		}
		next := s.cron.Next(now)
		if next.IsZero() {
			return time.Time{}, invalid("cron", s.cronExpr, "expression has no future occurrence")
		}
		return next.UTC(), nil

	default:
		return time.Time{}, invalid("schedule_mode", "", "no schedule configured")
	}
}

// Upcoming returns up to n consecutive targets starting at now.
// For one-shot schedules it returns the single configured instant.
func Upcoming(s Schedule, now time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, n)
	cursor := now
	for len(out) < n {
		t, err := ResolveNextTarget(s, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if !s.IsRecurring() {
			break
		}
		cursor = t
	}
	return out, nil
}
