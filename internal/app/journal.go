package app

import (
	"context"
	"time"

	"motorsched/internal/dispatch"
	"motorsched/internal/eventbus"
	"motorsched/internal/storage"
	logx "motorsched/pkg/logx"
)

var firingResults = map[string]string{
	eventbus.TypeMoveSent:    storage.ResultSent,
	eventbus.TypeMoveFailed:  storage.ResultFailed,
	eventbus.TypeMoveSkipped: storage.ResultSkipped,
}

// recordFirings appends every firing event to the journal until ctx ends
// or the subscription closes. Append failures are logged and dropped.
func recordFirings(ctx context.Context, events <-chan eventbus.Event, journal storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			result, isFiring := firingResults[ev.Type]
			if !isFiring {
				log.Debug("event", logx.String("type", ev.Type), logx.Time("time", ev.Time))
				continue
			}
			f, ok := ev.Data.(dispatch.Firing)
			if !ok || journal == nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := journal.AppendDispatch(wctx, recordOf(f, result))
			cancel()
			if err != nil {
				log.Warn("journal append failed", logx.String("at", f.Entry.TimeOfDay), logx.Err(err))
			}
		}
	}
}

func recordOf(f dispatch.Firing, result string) storage.Record {
	return storage.Record{
		FiredAt:   f.FiredAt,
		Scheduled: f.Entry.TimeOfDay,
		Direction: f.Entry.Direction.String(),
		Steps:     f.Entry.Steps,
		Port:      f.Port,
		Result:    result,
		Error:     f.Error,
	}
}
