package dispatch

import (
	"context"
	"errors"
	"time"

	"motorsched/internal/move"
)

// DefaultTick is the polling granularity of the tick loop.
const DefaultTick = time.Second

// Config controls the dispatcher.
type Config struct {
	Tick     time.Duration
	Timezone string // IANA TZ; empty means host local time
}

// Sender is the device side of a firing. *device.Channel implements it.
type Sender interface {
	IsOpen() bool
	Port() (name string, baud int)
	Send(ctx context.Context, dir move.Direction, steps int) (sent bool, err error)
}

var (
	ErrEmptySchedule  = errors.New("no moves scheduled")
	ErrNotConnected   = errors.New("not connected to the controller")
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// OperationalWarning is returned when Start is refused. Nothing was
// started; the caller can fix the condition and retry.
type OperationalWarning struct {
	Reason error
}

func (w *OperationalWarning) Error() string { return "scheduler not started: " + w.Reason.Error() }

func (w *OperationalWarning) Unwrap() error { return w.Reason }

func warn(reason error) error { return &OperationalWarning{Reason: reason} }

// Firing is published on the event bus for every trigger that came due.
type Firing struct {
	Entry     move.Entry `json:"entry"`
	Scheduled time.Time  `json:"scheduled"`
	FiredAt   time.Time  `json:"fired_at"`
	Port      string     `json:"port,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type TriggerInfo struct {
	Entry move.Entry
	Next  time.Time
	Last  time.Time // zero until the trigger fired once
}

type Snapshot struct {
	Running  bool
	Timezone string
	Tick     time.Duration
	Triggers []TriggerInfo
}
