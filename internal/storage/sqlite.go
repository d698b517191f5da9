package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "motorsched/pkg/logx"
)

//go:embed migrations.sql
var schema string

const (
	defaultBusyTimeout = 2 * time.Second
	pruneEvery         = 64
)

type sqliteStore struct {
	db     *sql.DB
	insert *sql.Stmt
	log    logx.Logger

	retain  int
	appends atomic.Uint64
}

// sqliteDSN sets the pragmas on every pooled connection.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, err
	}
	// One writer; the journal sees a few inserts a day.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	insert, err := db.PrepareContext(ctx,
		`INSERT INTO dispatches (id, fired_at, tz_offset, scheduled, direction, steps, port, result, err)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &sqliteStore{db: db, insert: insert, log: log, retain: cfg.Retain}
	s.prune(ctx)
	log.Debug("dispatch journal opened", logx.String("path", path), logx.String("driver", "sqlite"), logx.Duration("busy_timeout", busy))
	return s, nil
}

func (s *sqliteStore) Close() error {
	_ = s.insert.Close()
	return s.db.Close()
}

func (s *sqliteStore) AppendDispatch(ctx context.Context, r Record) error {
	r = fill(r)
	_, offset := r.FiredAt.Zone()
	if _, err := s.insert.ExecContext(ctx,
		r.ID, r.FiredAt.UnixMilli(), offset, r.Scheduled, r.Direction, r.Steps, r.Port, r.Result, r.Error,
	); err != nil {
		return err
	}
	if s.retain > 0 && s.appends.Add(1)%pruneEvery == 0 {
		s.prune(ctx)
	}
	return nil
}

// prune drops all but the newest retain rows. Failures are logged only.
func (s *sqliteStore) prune(ctx context.Context) {
	if s.retain <= 0 {
		return
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dispatches WHERE seq <= (SELECT MAX(seq) FROM dispatches) - ?`, s.retain)
	if err != nil {
		s.log.Warn("journal prune failed", logx.Err(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("journal pruned", logx.Int("removed", int(n)), logx.Int("retain", s.retain))
	}
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fired_at, tz_offset, scheduled, direction, steps, port, result, err
		 FROM (SELECT * FROM dispatches ORDER BY seq DESC LIMIT ?)
		 ORDER BY seq`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, n)
	for rows.Next() {
		var (
			r      Record
			millis int64
			offset int
		)
		if err := rows.Scan(&r.ID, &millis, &offset, &r.Scheduled, &r.Direction, &r.Steps, &r.Port, &r.Result, &r.Error); err != nil {
			return nil, err
		}
		r.FiredAt = time.UnixMilli(millis).In(time.FixedZone("", offset))
		out = append(out, r)
	}
	return out, rows.Err()
}
