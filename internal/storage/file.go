package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "motorsched/pkg/logx"
)

var errJournalClosed = errors.New("dispatch journal closed")

// fileStore is a JSON Lines journal at <dir>/<base>.dispatch.jsonl, where
// Path is <dir>/<base>.<ext>.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func journalPath(path string) string {
	base := filepath.Base(path)
	return filepath.Join(filepath.Dir(path), strings.TrimSuffix(base, filepath.Ext(base))+".dispatch.jsonl")
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	path := journalPath(strings.TrimSpace(cfg.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: path, retain: cfg.Retain}
	if s.retain > 0 {
		if err := s.compact(); err != nil {
			log.Warn("journal compaction failed", logx.String("path", path), logx.Err(err))
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f, s.enc = f, json.NewEncoder(f)
	log.Debug("dispatch journal opened", logx.String("path", path), logx.String("driver", "file"))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.enc = nil, nil
	return err
}

func (s *fileStore) AppendDispatch(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return errJournalClosed
	}
	return s.enc.Encode(fill(r))
}

// Recent scans the journal and keeps the last n records. Malformed lines are
// skipped.
func (s *fileStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, errJournalClosed
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tail []Record
	err = s.scan(f, func(r Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tail = append(tail, r)
		if len(tail) > n {
			tail = tail[1:]
		}
		return nil
	})
	return tail, err
}

func (s *fileStore) scan(r io.Reader, fn func(Record) error) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			s.log.Debug("skipping malformed journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

// compact rewrites the journal with only the newest retain records. The
// rewrite goes through a temp file and rename.
func (s *fileStore) compact() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var keep []Record
	total := 0
	err = s.scan(f, func(r Record) error {
		total++
		keep = append(keep, r)
		if len(keep) > s.retain {
			keep = keep[1:]
		}
		return nil
	})
	_ = f.Close()
	if err != nil || total <= s.retain {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".journal-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	enc := json.NewEncoder(tmp)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace journal: %w", err)
	}
	s.log.Info("journal compacted", logx.Int("removed", total-len(keep)), logx.Int("kept", len(keep)))
	return nil
}
