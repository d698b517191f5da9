package dispatch

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"motorsched/internal/move"
)

// trigger is one entry's daily schedule. Guarded by Dispatcher.mu.
type trigger struct {
	entry move.Entry
	sched cron.Schedule
	next  time.Time
	last  time.Time
}

// dailySpec maps an entry to a five-field cron expression firing once a day.
func dailySpec(e move.Entry) string {
	h, m := e.Clock()
	return fmt.Sprintf("%d %d * * *", m, h)
}

// newTrigger registers e relative to now: if today's time is still ahead
// it fires today, otherwise tomorrow.
func newTrigger(e move.Entry, now time.Time) (*trigger, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	sched, err := cron.ParseStandard(dailySpec(e))
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", e.TimeOfDay, err)
	}
	return &trigger{entry: e, sched: sched, next: sched.Next(now)}, nil
}

func (t *trigger) due(now time.Time) bool { return !now.Before(t.next) }

// advance records a firing at now and moves the trigger to its next day.
func (t *trigger) advance(now time.Time) {
	t.last = now
	t.next = t.sched.Next(now)
}
