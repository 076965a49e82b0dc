package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "unsealer/pkg/logx"
)

// SummarizeConfigChange returns a compact sorted list of changed sections and
// structured attrs describing the new values, for the reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	oc, nc := oldCfg.Countdown, newCfg.Countdown
	if oc.spec() != nc.spec() ||
		oc.DisplayWindowSeconds != nc.DisplayWindowSeconds ||
		strings.TrimSpace(oc.TickInterval) != strings.TrimSpace(nc.TickInterval) {
		changed = append(changed, "countdown")
		sched := "<invalid>"
		if s, err := nc.Schedule(); err == nil {
			sched = s.String()
		}
		attrs = append(attrs,
			logx.String("countdown.schedule", sched),
			logx.Int("countdown.display_window_seconds", nc.DisplayWindowSeconds),
			logx.String("countdown.tick_interval", strings.TrimSpace(nc.TickInterval)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Server.Enabled != newCfg.Server.Enabled ||
		oldCfg.Server.ListenAddr() != newCfg.Server.ListenAddr() ||
		oldCfg.Server.Pprof != newCfg.Server.Pprof ||
		!slices.Equal(oldCfg.Server.AllowOrigins, newCfg.Server.AllowOrigins) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", newCfg.Server.ListenAddr()),
			logx.Int("server.origin_count", len(newCfg.Server.AllowOrigins)),
			logx.Bool("server.pprof", newCfg.Server.Pprof),
		)
	}

	var oBusy, nBusy string
	var oPath, nPath string
	if oldCfg.Journal != nil {
		oBusy, oPath = strings.TrimSpace(oldCfg.Journal.BusyTimeout), strings.TrimSpace(oldCfg.Journal.Path)
	}
	if newCfg.Journal != nil {
		nBusy, nPath = strings.TrimSpace(newCfg.Journal.BusyTimeout), strings.TrimSpace(newCfg.Journal.Path)
	}
	if oldCfg.Journal.DriverName() != newCfg.Journal.DriverName() || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", newCfg.Journal.DriverName()),
			logx.Bool("journal.path_set", nPath != ""),
			logx.String("journal.busy_timeout", nBusy),
		)
	}

	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Bool("relay.mqtt", newCfg.Relay != nil && newCfg.Relay.MQTT != nil),
			logx.Bool("relay.redis", newCfg.Relay != nil && newCfg.Relay.Redis != nil),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s == "server" || s == "journal" || s == "relay" {
			out = append(out, s)
		}
	}
	return out
}
