package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Spec holds the raw schedule fields as they appear in configuration.
//
// Supported forms:
//   - One-shot: TargetUTCISO "2025-01-01T00:00:00Z" (wins over everything else)
//   - Daily:    Mode "daily",  DailyUTC "HH:MM:SS"
//   - Weekly:   Mode "weekly", WeeklyUTC "D-HH:MM:SS" (D = 0..6, 0 = Sunday)
//   - Cron:     Mode "cron",   Cron "0 0 12 * * 1" or "@daily"
type Spec struct {
	TargetUTCISO string
	Mode         string
	DailyUTC     string
	WeeklyUTC    string
	Cron         string
}

const (
	ModeDaily  = "daily"
	ModeWeekly = "weekly"
	ModeCron   = "cron"
)

var (
	reTimeOfDay = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})$`)
	reWeekly    = regexp.MustCompile(`^(\d)-(\d{1,2}:\d{2}:\d{2})$`)
)

// FromSpec builds a Schedule from raw configuration fields.
// Every failure is an *InvalidScheduleError.
func FromSpec(sp Spec) (Schedule, error) {
	if iso := strings.TrimSpace(sp.TargetUTCISO); iso != "" {
		t, err := ParseInstant(iso)
		if err != nil {
			return Schedule{}, err
		}
		return OneShot(t), nil
	}

	mode := strings.ToLower(strings.TrimSpace(sp.Mode))
	switch mode {
	case ModeDaily:
		raw := strings.TrimSpace(sp.DailyUTC)
		if raw == "" {
			return Schedule{}, invalid("daily_utc", "", "required when schedule_mode is daily")
		}
		at, err := ParseTimeOfDay(raw)
		if err != nil {
			return Schedule{}, withField(err, "daily_utc")
		}
		return Daily(at), nil

	case ModeWeekly:
		raw := strings.TrimSpace(sp.WeeklyUTC)
		if raw == "" {
			return Schedule{}, invalid("weekly_utc", "", "required when schedule_mode is weekly")
		}
		day, at, err := ParseWeekly(raw)
		if err != nil {
			return Schedule{}, err
		}
		return Weekly(day, at), nil

	case ModeCron:
		if strings.TrimSpace(sp.Cron) == "" {
			return Schedule{}, invalid("cron", "", "required when schedule_mode is cron")
		}
		return Cron(sp.Cron)

	case "":
		return Schedule{}, invalid("schedule_mode", "", "set target_utc_iso or a recurring schedule_mode")
	default:
		return Schedule{}, invalid("schedule_mode", sp.Mode, "must be daily, weekly or cron")
	}
}

// ParseInstant parses an absolute RFC 3339 instant. A zone designator is required:
// a bare local timestamp would be ambiguous.
func ParseInstant(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &InvalidScheduleError{Field: "target_utc_iso", Value: raw, Reason: "expected RFC 3339 with zone, e.g. 2025-01-01T00:00:00Z", Err: err}
	}
	return t.UTC(), nil
}

// ParseTimeOfDay parses "HH:MM:SS" (24h, UTC).
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	m := reTimeOfDay.FindStringSubmatch(s)
	if len(m) != 4 {
		return TimeOfDay{}, invalid("", raw, "expected HH:MM:SS")
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	se, _ := strconv.Atoi(m[3])
	at := TimeOfDay{Hour: h, Minute: mi, Second: se}
	if !at.valid() {
		return TimeOfDay{}, invalid("", raw, "time of day out of range")
	}
	return at, nil
}

// ParseWeekly parses "D-HH:MM:SS" where D is 0 (Sunday) through 6 (Saturday).
func ParseWeekly(raw string) (time.Weekday, TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	m := reWeekly.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0, TimeOfDay{}, invalid("weekly_utc", raw, "expected D-HH:MM:SS")
	}
	d, _ := strconv.Atoi(m[1])
	if d < 0 || d > 6 {
		return 0, TimeOfDay{}, invalid("weekly_utc", raw, "day of week must be 0-6")
	}
	at, err := ParseTimeOfDay(m[2])
	if err != nil {
		return 0, TimeOfDay{}, withField(err, "weekly_utc")
	}
	return time.Weekday(d), at, nil
}

func withField(err error, field string) error {
	if ie, ok := err.(*InvalidScheduleError); ok {
		cp := *ie
		cp.Field = field
		return &cp
	}
	return fmt.Errorf("%s: %w", field, err)
}
