package app

import (
	"strings"

	"unsealer/internal/config"
	"unsealer/internal/journal"
)

// mapJournalConfig converts the journal section. enabled is false for a
// missing section or driver "none".
func mapJournalConfig(cfg *config.Config) (journal.Config, bool, error) {
	if cfg == nil || cfg.Journal.DriverName() == config.JournalNone {
		return journal.Config{}, false, nil
	}
	jc := cfg.Journal
	busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, config.DefaultBusyTimeout)
	if err != nil {
		return journal.Config{}, false, err
	}
	return journal.Config{
		Driver:      jc.DriverName(),
		Path:        strings.TrimSpace(jc.Path),
		BusyTimeout: busy,
	}, true, nil
}
