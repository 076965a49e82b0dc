package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "unsealer/pkg/logx"
)

var ErrClosed = errors.New("journal closed")

// Kind classifies a journal entry.
type Kind string

const (
	KindStarted        Kind = "started"
	KindUnsealed       Kind = "unsealed"
	KindRollover       Kind = "rollover"
	KindConfigInvalid  Kind = "config_invalid"
	KindConfigRestored Kind = "config_restored"
	KindResumed        Kind = "resumed"
	KindStopped        Kind = "stopped"
)

// Entry is one journal record. Keep it compact and schema-stable.
type Entry struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Kind   Kind      `json:"kind"`
	Target time.Time `json:"target,omitzero"`
	Detail string    `json:"detail,omitempty"`
}

// Config configures the journal.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Journal is the persistence API used by the service.
type Journal interface {
	// Append stores e and assigns its ID. A zero At is stamped with time.Now.
	Append(ctx context.Context, e Entry) (Entry, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// ClampLimit maps a requested page size into [1, MaxLimit]; <= 0 means DefaultLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

// Open initializes the configured journal.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "journal"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", driver)
	}
}
