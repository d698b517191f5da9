package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // newest records kept; 0 keeps everything
}

// Result values for Record.Result.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Record is one firing. Keep it compact and schema-stable.
type Record struct {
	ID        string    `json:"id"`
	FiredAt   time.Time `json:"fired_at"`
	Scheduled string    `json:"scheduled"` // HH:MM
	Direction string    `json:"direction"`
	Steps     int       `json:"steps"`
	Port      string    `json:"port,omitempty"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
}
