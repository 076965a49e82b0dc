package app

import (
	"sync"

	"unsealer/internal/config"
	"unsealer/internal/countdown"
)

// settingsSource adapts the config manager to countdown.ConfigSource.
// Parsed settings are cached per committed config so ticks do not re-parse.
type settingsSource struct {
	cfgm *config.ConfigManager

	mu   sync.Mutex
	last *config.Config
	set  countdown.Settings
	err  error
}

func newSettingsSource(cfgm *config.ConfigManager) *settingsSource {
	return &settingsSource{cfgm: cfgm}
}

// Current reports the last reload error even though the last good config
// is still held, so the controller flags the frame as config-invalid.
func (s *settingsSource) Current() (countdown.Settings, error) {
	cfg, err := s.cfgm.Current()
	if err != nil {
		return countdown.Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg != s.last {
		s.last = cfg
		s.set, s.err = settingsFrom(cfg)
	}
	return s.set, s.err
}

func settingsFrom(cfg *config.Config) (countdown.Settings, error) {
	sched, err := cfg.Countdown.Schedule()
	if err != nil {
		return countdown.Settings{}, err
	}
	iv, err := cfg.Countdown.Interval()
	if err != nil {
		return countdown.Settings{}, err
	}
	return countdown.Settings{
		Schedule:      sched,
		DisplayWindow: cfg.Countdown.DisplayWindow(),
		TickInterval:  iv,
	}, nil
}
