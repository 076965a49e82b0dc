package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "unsealer/pkg/logx"
)

// fileStore appends entries to a JSON Lines file.
//
// Recent re-reads the file; the journal is small (a few lines per unseal)
// so there is no index.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	f      *os.File
	lastID int64
}

func openFile(cfg Config, log logx.Logger) (Journal, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: path, f: f}
	if err := s.terminateTornLine(); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Continue the ID sequence of an existing file.
	if err := s.scan(func(e Entry) { s.lastID = max(s.lastID, e.ID) }); err != nil {
		_ = f.Close()
		return nil, err
	}
	log.Debug("journal opened", logx.String("path", path), logx.Int64("last_id", s.lastID))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	if !e.Target.IsZero() {
		e.Target = e.Target.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return Entry{}, ErrClosed
	}
	e.ID = s.lastID + 1
	b, err := json.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return Entry{}, err
	}
	s.lastID = e.ID
	return e, nil
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}

	// Keep the last `limit` entries in a ring, then reverse.
	ring := make([]Entry, 0, limit)
	next := 0
	err := s.scan(func(e Entry) {
		if len(ring) < limit {
			ring = append(ring, e)
			return
		}
		ring[next] = e
		next = (next + 1) % limit
	})
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

// terminateTornLine ends a partially written last line so the next append
// starts on a fresh line.
func (s *fileStore) terminateTornLine() error {
	st, err := s.f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := s.f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = s.f.Write([]byte{'\n'})
	return err
}

// scan calls fn for every decodable line from the start of the file.
// Torn or foreign lines are skipped. Caller holds mu (or owns s exclusively).
func (s *fileStore) scan(fn func(Entry)) error {
	r := io.NewSectionReader(s.f, 0, 1<<62)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Kind == "" {
			s.log.Debug("journal: skipping unreadable line", logx.Err(err))
			continue
		}
		fn(e)
	}
	return sc.Err()
}
