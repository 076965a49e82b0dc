package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "UNSEALER_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set in the environment win. An empty path means ".env",
// which may be absent; an explicit path must exist.
func LoadDotEnv(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays UNSEALER_* variables on cfg. Set-but-empty variables are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	c := &cfg.Countdown
	if v, ok := get("TARGET_UTC_ISO"); ok {
		c.TargetUTCISO = v
	}
	if v, ok := get("SCHEDULE_MODE"); ok {
		c.ScheduleMode = v
	}
	if v, ok := get("DAILY_UTC"); ok {
		c.DailyUTC = v
	}
	if v, ok := get("WEEKLY_UTC"); ok {
		c.WeeklyUTC = v
	}
	if v, ok := get("CRON"); ok {
		c.Cron = v
	}
	if v, ok := get("DISPLAY_WINDOW_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDISPLAY_WINDOW_SECONDS: %w", envPrefix, err)
		}
		c.DisplayWindowSeconds = n
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("ADDR"); ok {
		cfg.Server.Addr = v
	}
	// Secrets only fill sinks that are configured in the file.
	if r := cfg.Relay; r != nil {
		if v, ok := get("MQTT_PASSWORD"); ok && r.MQTT != nil {
			r.MQTT.Password = v
		}
		if v, ok := get("REDIS_PASSWORD"); ok && r.Redis != nil {
			r.Redis.Password = v
		}
	}
	return nil
}
