package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"unsealer/internal/schedule"
)

const dailyYAML = `
countdown:
  schedule_mode: daily
  daily_utc: "12:00:00"
  display_window_seconds: 300
logging:
  level: debug
  console: true
server:
  enabled: true
  addr: "127.0.0.1:0"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func newManager(path string) *ConfigManager {
	m := NewConfigManager(path)
	m.SetEnv(noEnv)
	return m
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "unsealer.yaml", dailyYAML)
	m := newManager(p)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, err := cfg.Countdown.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if s.Kind() != schedule.KindDaily || s.At() != (schedule.TimeOfDay{Hour: 12}) {
		t.Fatalf("schedule = %s", s)
	}
	if cfg.Countdown.DisplayWindow() != 5*time.Minute {
		t.Fatalf("window = %s", cfg.Countdown.DisplayWindow())
	}
	if d, _ := cfg.Countdown.Interval(); d != DefaultTickInterval {
		t.Fatalf("interval = %s", d)
	}
	if got, err := m.Current(); err != nil || got != cfg {
		t.Fatalf("Current = %p, %v", got, err)
	}
}

func TestLoadStartupToleratesCountdownOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	badSchedule := writeFile(t, dir, "schedule.yaml", "countdown:\n  schedule_mode: weekly\n  display_window_seconds: 5\n")
	m := newManager(badSchedule)
	cfg, err := m.LoadStartup()
	if err != nil || cfg == nil {
		t.Fatalf("LoadStartup = %v, %v", cfg, err)
	}
	got, err := m.Current()
	var ise *schedule.InvalidScheduleError
	if got != cfg || !errors.As(err, &ise) || ise.Field != "weekly_utc" {
		t.Fatalf("Current = %p, %v", got, err)
	}
	if _, err := newManager(badSchedule).Load(); err == nil {
		t.Fatal("Load accepted an invalid schedule")
	}

	badServer := writeFile(t, dir, "server.yaml", "countdown:\n  schedule_mode: weekly\n"+
		"server:\n  enabled: true\n  addr: nowhere\n")
	if _, err := newManager(badServer).LoadStartup(); err == nil || !strings.Contains(err.Error(), "server.addr") {
		t.Fatalf("LoadStartup err = %v, want server.addr", err)
	}
}

func TestLoadJSONStrict(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown key", body: `{"countdown":{"target_utc_iso":"2025-01-01T00:00:00Z","bogus":1}}`},
		{name: "trailing data", body: `{"countdown":{"target_utc_iso":"2025-01-01T00:00:00Z"}} {}`},
		{name: "wrong type", body: `{"countdown":{"display_window_seconds":"ten"}}`},
	}
	for i, tt := range tests {
		p := writeFile(t, dir, "c"+string(rune('a'+i))+".json", tt.body)
		if _, err := newManager(p).Load(); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
		isSched bool
	}{
		{
			name: "one-shot ok",
			cfg:  Config{Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"}},
		},
		{
			name:    "no schedule",
			cfg:     Config{},
			wantErr: "schedule_mode",
			isSched: true,
		},
		{
			name:    "recurring without window",
			cfg:     Config{Countdown: CountdownConfig{ScheduleMode: "daily", DailyUTC: "00:00:00"}},
			wantErr: "display_window_seconds",
		},
		{
			name:    "bad weekly",
			cfg:     Config{Countdown: CountdownConfig{ScheduleMode: "weekly", WeeklyUTC: "9-00:00:00", DisplayWindowSeconds: 10}},
			wantErr: "weekly_utc",
			isSched: true,
		},
		{
			name: "tick too fast",
			cfg: Config{Countdown: CountdownConfig{
				TargetUTCISO: "2025-01-01T00:00:00Z",
				TickInterval: "1ms",
			}},
			wantErr: "tick_interval",
		},
		{
			name: "bad level",
			cfg: Config{
				Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"},
				Logging:   LoggingConfig{Level: "loud"},
			},
			wantErr: "logging.level",
		},
		{
			name: "journal without path",
			cfg: Config{
				Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"},
				Journal:   &JournalConfig{Driver: "sqlite"},
			},
			wantErr: "journal.path",
		},
		{
			name: "origin without scheme",
			cfg: Config{
				Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"},
				Server:    ServerConfig{Enabled: true, AllowOrigins: []string{"*", "unseal.example"}},
			},
			wantErr: "server.allow_origins[1]",
		},
		{
			name: "relay mqtt broker without scheme",
			cfg: Config{
				Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"},
				Relay:     &RelayConfig{MQTT: &MQTTConfig{Broker: "localhost:1883"}},
			},
			wantErr: "relay.mqtt.broker",
		},
		{
			name: "relay bad qos",
			cfg: Config{
				Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"},
				Relay: &RelayConfig{
					MQTT:  &MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3},
					Redis: &RedisConfig{Addr: "localhost"},
				},
			},
			wantErr: "relay.mqtt.qos",
		},
		{
			name: "unknown journal driver",
			cfg: Config{
				Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"},
				Journal:   &JournalConfig{Driver: "redis", Path: "x"},
			},
			wantErr: "journal.driver",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
			if got := errors.Is(err, schedule.ErrInvalidSchedule); got != tt.isSched {
				t.Fatalf("errors.Is(ErrInvalidSchedule) = %v, want %v", got, tt.isSched)
			}
		})
	}
}

func TestApplyEnvOverlay(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "unsealer.yaml", dailyYAML)
	env := map[string]string{
		"UNSEALER_SCHEDULE_MODE":          "weekly",
		"UNSEALER_WEEKLY_UTC":             "1-12:00:00",
		"UNSEALER_DISPLAY_WINDOW_SECONDS": "60",
		"UNSEALER_LOG_LEVEL":              "warn",
		"UNSEALER_ADDR":                   "0.0.0.0:9000",
		"UNSEALER_CRON":                   "   ",
	}
	m := NewConfigManager(p)
	m.SetEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, _ := cfg.Countdown.Schedule()
	if s.Kind() != schedule.KindWeekly || s.Weekday() != time.Monday {
		t.Fatalf("schedule = %s", s)
	}
	if cfg.Countdown.DisplayWindowSeconds != 60 || cfg.Logging.Level != "warn" || cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.Countdown.Cron != "" {
		t.Fatalf("blank env var should be ignored, got cron %q", cfg.Countdown.Cron)
	}
}

func TestApplyEnvRelaySecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"UNSEALER_MQTT_PASSWORD":  "m-secret",
		"UNSEALER_REDIS_PASSWORD": "r-secret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &Config{Relay: &RelayConfig{MQTT: &MQTTConfig{Broker: "tcp://localhost:1883"}}}
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Relay.MQTT.Password != "m-secret" || cfg.Relay.Redis != nil {
		t.Fatalf("relay = %+v", cfg.Relay)
	}

	bare := &Config{}
	if err := ApplyEnv(bare, lookup); err != nil || bare.Relay != nil {
		t.Fatalf("secrets must not create a relay section: %+v, %v", bare.Relay, err)
	}
}

func TestApplyEnvBadNumber(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	err := ApplyEnv(cfg, func(k string) (string, bool) {
		if k == "UNSEALER_DISPLAY_WINDOW_SECONDS" {
			return "soon", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "test.env", "UNSEALER_TEST_DOTENV=from-file\n")
	t.Setenv("UNSEALER_TEST_DOTENV", "")
	os.Unsetenv("UNSEALER_TEST_DOTENV")

	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("UNSEALER_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("env = %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err == nil {
		t.Fatal("explicit missing file should fail")
	}
}

func TestReloadKeepsLastGoodAndRecovers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "unsealer.yaml", dailyYAML)
	m := newManager(p)
	good, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	writeFile(t, dir, "unsealer.yaml", "countdown:\n  schedule_mode: hourly\n")
	if err := m.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	cur, err := m.Current()
	if err == nil {
		t.Fatal("Current should report the failed read")
	}
	if cur != good || m.Get() != good {
		t.Fatal("last good config must be kept")
	}
	select {
	case <-sub:
		t.Fatal("failed reload must not publish")
	default:
	}

	// Restoring identical content clears the error and republishes.
	writeFile(t, dir, "unsealer.yaml", dailyYAML)
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := m.Current(); err != nil {
		t.Fatalf("Current after recovery: %v", err)
	}
	select {
	case <-sub:
	default:
		t.Fatal("recovery should publish")
	}

	// Unchanged content with no error is not republished.
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case <-sub:
		t.Fatal("unchanged config should not publish")
	default:
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := newManager("unused.yaml")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("slow subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("Unsubscribe should close the channel")
	}
}

func TestCurrentBeforeLoad(t *testing.T) {
	t.Parallel()
	if _, err := newManager("nope.yaml").Current(); err == nil {
		t.Fatal("expected error before Load")
	}
}

func TestWatchPublishesOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "unsealer.yaml", dailyYAML)
	m := newManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := strings.Replace(dailyYAML, `"12:00:00"`, `"13:00:00"`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and the debounce fires.
		writeFile(t, dir, "unsealer.yaml", updated)
		select {
		case cfg := <-sub:
			if cfg.Countdown.DailyUTC != "13:00:00" {
				t.Fatalf("published %q", cfg.Countdown.DailyUTC)
			}
			return
		case <-deadline:
			t.Fatal("no config published")
		case <-tick.C:
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"}}
	newCfg := &Config{
		Countdown: CountdownConfig{TargetUTCISO: "2025-01-01T00:00:00Z"},
		Logging:   LoggingConfig{Level: "debug"},
		Journal:   &JournalConfig{Driver: "file", Path: "j.jsonl"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "journal,logging" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "journal" {
		t.Fatalf("RestartRequired = %v", got)
	}
	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs changed = %v", changed)
	}
}

func TestYAMLToJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr string
	}{
		{name: "empty document", in: "", want: `{}`},
		{name: "unquoted timestamp stays text", in: "countdown:\n  target_utc_iso: 2030-01-01T02:00:00+02:00\n", want: `{"countdown":{"target_utc_iso":"2030-01-01T02:00:00+02:00"}}`},
		{name: "tagged timestamp", in: "at: !!timestamp 2030-01-01T02:00:00+02:00\n", want: `{"at":"2030-01-01T00:00:00Z"}`},
		{name: "numeric keys", in: "1: a\n", want: `{"1":"a"}`},
		{name: "two documents", in: "a: 1\n---\nb: 2\n", wantErr: "more than one document"},
		{name: "broken", in: "a: [1,\n", wantErr: "yaml:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := yamlToJSON([]byte(tt.in))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || string(got) != tt.want {
				t.Fatalf("got %s, %v; want %s", got, err, tt.want)
			}
		})
	}
}
