package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	minTickInterval = 10 * time.Millisecond
	maxTickInterval = time.Minute
)

// ParseDurationOrDefault parses a Go duration string at the given config path.
// Empty or zero values yield def; negative values are rejected.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// Validate reports every problem in cfg at once (joined). A schedule problem
// keeps its *schedule.InvalidScheduleError so callers can errors.As it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	return errors.Join(ValidateCountdown(cfg.Countdown), validateServices(cfg))
}

// ValidateCountdown checks only the countdown section: schedule, display
// window and tick interval.
func ValidateCountdown(c CountdownConfig) error {
	var errs []error
	s, err := c.Schedule()
	if err != nil {
		errs = append(errs, fmt.Errorf("countdown: %w", err))
	}
	if c.DisplayWindowSeconds < 0 {
		errs = append(errs, errors.New("countdown.display_window_seconds: must be >= 0"))
	} else if err == nil && s.IsRecurring() && c.DisplayWindowSeconds == 0 {
		errs = append(errs, fmt.Errorf("countdown.display_window_seconds: required (> 0) for %s schedules", s.Kind()))
	}
	if d, err := c.Interval(); err != nil {
		errs = append(errs, err)
	} else if d < minTickInterval || d > maxTickInterval {
		errs = append(errs, fmt.Errorf("countdown.tick_interval: %s outside [%s, %s]", d, minTickInterval, maxTickInterval))
	}
	return errors.Join(errs...)
}

// validateServices checks everything outside the countdown section.
func validateServices(cfg *Config) error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if cfg.Server.Enabled {
		if a := strings.TrimSpace(cfg.Server.Addr); a != "" && !strings.Contains(a, ":") {
			errs = append(errs, fmt.Errorf("server.addr: %q is not host:port", a))
		}
		for i, o := range cfg.Server.AllowOrigins {
			o = strings.TrimSpace(o)
			if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
				errs = append(errs, fmt.Errorf("server.allow_origins[%d]: %q must be \"*\" or an http(s) origin", i, o))
			}
		}
	}

	switch d := cfg.Journal.DriverName(); d {
	case JournalNone:
	case JournalFile, JournalSQLite:
		if strings.TrimSpace(cfg.Journal.Path) == "" {
			errs = append(errs, fmt.Errorf("journal.path: required for driver %q", d))
		}
		if _, err := ParseDurationOrDefault("journal.busy_timeout", cfg.Journal.BusyTimeout, DefaultBusyTimeout); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("journal.driver: unknown driver %q (want none|file|sqlite)", d))
	}

	if r := cfg.Relay; r != nil {
		if m := r.MQTT; m != nil {
			if !strings.Contains(m.Broker, "://") {
				errs = append(errs, fmt.Errorf("relay.mqtt.broker: %q must be a URL like tcp://host:1883", m.Broker))
			}
			if m.QoS < 0 || m.QoS > 2 {
				errs = append(errs, fmt.Errorf("relay.mqtt.qos: %d not in [0,2]", m.QoS))
			}
		}
		if rd := r.Redis; rd != nil {
			if a := strings.TrimSpace(rd.Addr); !strings.Contains(a, ":") {
				errs = append(errs, fmt.Errorf("relay.redis.addr: %q is not host:port", a))
			}
			if rd.DB < 0 {
				errs = append(errs, fmt.Errorf("relay.redis.db: must be >= 0"))
			}
		}
	}

	return errors.Join(errs...)
}
