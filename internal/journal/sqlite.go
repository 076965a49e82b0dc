package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "unsealer/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const defaultBusyTimeout = 2 * time.Second

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

// row mirrors the events table.
type row struct {
	ID     int64          `db:"id"`
	At     string         `db:"at"`
	Kind   string         `db:"kind"`
	Target sql.NullString `db:"target"`
	Detail sql.NullString `db:"detail"`
}

func (r row) entry() (Entry, error) {
	e := Entry{ID: r.ID, Kind: Kind(r.Kind), Detail: r.Detail.String}
	var err error
	if e.At, err = time.Parse(time.RFC3339Nano, r.At); err != nil {
		return Entry{}, fmt.Errorf("journal row %d: %w", r.ID, err)
	}
	if r.Target.Valid {
		if e.Target, err = time.Parse(time.RFC3339Nano, r.Target.String); err != nil {
			return Entry{}, fmt.Errorf("journal row %d: %w", r.ID, err)
		}
	}
	return e, nil
}

func openSQLite(cfg Config, log logx.Logger) (Journal, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	log.Debug("journal opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	r := row{
		At:     e.At.Format(time.RFC3339Nano),
		Kind:   string(e.Kind),
		Detail: nullStr(e.Detail),
	}
	if !e.Target.IsZero() {
		e.Target = e.Target.UTC()
		r.Target = sql.NullString{String: e.Target.Format(time.RFC3339Nano), Valid: true}
	}
	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO events(at, kind, target, detail) VALUES(:at, :kind, :target, :detail)`, r)
	if err != nil {
		return Entry{}, err
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, at, kind, target, detail FROM events ORDER BY id DESC LIMIT ?`,
		ClampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func nullStr(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
