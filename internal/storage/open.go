package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "motorsched/pkg/logx"
)

// Store is the journal API used by the app.
type Store interface {
	AppendDispatch(ctx context.Context, r Record) error
	// Recent returns up to n records, oldest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// fill assigns an ID and timestamp when the caller left them empty.
func fill(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.FiredAt.IsZero() {
		r.FiredAt = time.Now()
	}
	return r
}
