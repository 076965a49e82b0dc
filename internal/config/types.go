package config

import (
	"strings"
	"time"

	"unsealer/internal/schedule"
	logx "unsealer/pkg/logx"
)

const (
	DefaultTickInterval = 250 * time.Millisecond
	DefaultAddr         = "127.0.0.1:8080"
	DefaultBusyTimeout  = 2 * time.Second
)

// Journal drivers.
const (
	JournalNone   = "none"
	JournalFile   = "file"
	JournalSQLite = "sqlite"
)

type Config struct {
	Countdown CountdownConfig `json:"countdown"`
	Logging   LoggingConfig   `json:"logging"`
	Server    ServerConfig    `json:"server"`

	// Journal is optional; nil means no journal.
	Journal *JournalConfig `json:"journal,omitempty"`

	// Relay is optional; nil means events stay in-process.
	Relay *RelayConfig `json:"relay,omitempty"`
}

// CountdownConfig describes the target schedule.
//
// Exactly one schedule is active: target_utc_iso (one-shot) wins over
// schedule_mode when both are present.
//
// Example (daily reveal at noon, visible for five minutes):
//
//	"countdown": { "schedule_mode": "daily", "daily_utc": "12:00:00", "display_window_seconds": 300 }
type CountdownConfig struct {
	TargetUTCISO string `json:"target_utc_iso,omitempty"`
	ScheduleMode string `json:"schedule_mode,omitempty"`
	DailyUTC     string `json:"daily_utc,omitempty"`
	WeeklyUTC    string `json:"weekly_utc,omitempty"`
	Cron         string `json:"cron,omitempty"`

	// DisplayWindowSeconds is how long a recurring reveal stays visible.
	DisplayWindowSeconds int `json:"display_window_seconds,omitempty"`

	// TickInterval is a Go duration string (default "250ms").
	TickInterval string `json:"tick_interval,omitempty"`
}

func (c CountdownConfig) spec() schedule.Spec {
	return schedule.Spec{
		TargetUTCISO: strings.TrimSpace(c.TargetUTCISO),
		Mode:         strings.TrimSpace(c.ScheduleMode),
		DailyUTC:     strings.TrimSpace(c.DailyUTC),
		WeeklyUTC:    strings.TrimSpace(c.WeeklyUTC),
		Cron:         strings.TrimSpace(c.Cron),
	}
}

// Schedule builds the configured schedule.
func (c CountdownConfig) Schedule() (schedule.Schedule, error) {
	return schedule.FromSpec(c.spec())
}

func (c CountdownConfig) DisplayWindow() time.Duration {
	if c.DisplayWindowSeconds <= 0 {
		return 0
	}
	return time.Duration(c.DisplayWindowSeconds) * time.Second
}

func (c CountdownConfig) Interval() (time.Duration, error) {
	return ParseDurationOrDefault("countdown.tick_interval", c.TickInterval, DefaultTickInterval)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx converts the section to the logger service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// ServerConfig controls the HTTP/WebSocket surface.
//
// Security note: prefer a loopback addr behind a reverse proxy.
type ServerConfig struct {
	Enabled      bool     `json:"enabled"`
	Addr         string   `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	AllowOrigins []string `json:"allow_origins,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof. Only honored on loopback addrs.
	Pprof bool `json:"pprof,omitempty"`
}

func (s ServerConfig) ListenAddr() string {
	if a := strings.TrimSpace(s.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

// JournalConfig controls the append-only event journal.
//
//	"journal": { "driver": "sqlite", "path": "./data/journal.db", "busy_timeout": "2s" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DriverName returns the normalized driver; nil or empty means "none".
func (j *JournalConfig) DriverName() string {
	if j == nil {
		return JournalNone
	}
	d := strings.ToLower(strings.TrimSpace(j.Driver))
	if d == "" {
		return JournalNone
	}
	return d
}

// RelayConfig forwards countdown lifecycle events to external displays.
//
//	"relay": {
//	  "mqtt":  { "broker": "tcp://127.0.0.1:1883", "topic": "unsealer/events" },
//	  "redis": { "addr": "127.0.0.1:6379", "channel": "unsealer:events" }
//	}
type RelayConfig struct {
	MQTT  *MQTTConfig  `json:"mqtt,omitempty"`
	Redis *RedisConfig `json:"redis,omitempty"`
}

type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id,omitempty"` // default: "unsealer"
	Topic    string `json:"topic,omitempty"`     // default: "unsealer/events"
	QoS      int    `json:"qos,omitempty"`
	Retain   bool   `json:"retain,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // prefer UNSEALER_MQTT_PASSWORD
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // prefer UNSEALER_REDIS_PASSWORD
	DB       int    `json:"db,omitempty"`
	Channel  string `json:"channel,omitempty"` // default: "unsealer:events"
}

// Enabled reports whether any relay sink is configured.
func (r *RelayConfig) Enabled() bool {
	return r != nil && (r.MQTT != nil || r.Redis != nil)
}
