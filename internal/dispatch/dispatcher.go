package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"motorsched/internal/eventbus"
	"motorsched/internal/metrics"
	"motorsched/internal/move"
	rtsup "motorsched/internal/runtime/supervisor"
	logx "motorsched/pkg/logx"
)

const (
	failureWarnEvery = 5 * time.Second
	loopRestartMin   = 100 * time.Millisecond
	loopRestartMax   = 5 * time.Second
)

type Option func(*Dispatcher)

// WithClock replaces time.Now (tests drive a simulated clock).
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = bus } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

type Dispatcher struct {
	// lifeMu serializes Start and Stop so a new loop never overlaps an
	// exiting one.
	lifeMu sync.Mutex

	mu       sync.Mutex
	cfg      Config
	loc      *time.Location
	running  bool
	triggers []*trigger
	sup      *rtsup.Supervisor

	sender  Sender
	now     func() time.Time
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	failWarn *rate.Limiter
}

func New(cfg Config, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		sender:   sender,
		now:      time.Now,
		failWarn: rate.NewLimiter(rate.Every(failureWarnEvery), 1),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.bus == nil {
		d.bus = eventbus.Nop()
	}
	return d
}

// Apply updates tick and timezone. They take effect on the next Start.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start registers one daily trigger per entry and launches the tick loop.
// It refuses with an *OperationalWarning when already running, when
// entries is empty, or when the device channel is closed, and with ctx's
// error when ctx is already done. The loop ends with ctx or Stop.
func (d *Dispatcher) Start(ctx context.Context, entries []move.Entry) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return warn(ErrAlreadyRunning)
	}
	if len(entries) == 0 {
		d.mu.Unlock()
		return warn(ErrEmptySchedule)
	}
	if d.sender == nil || !d.sender.IsOpen() {
		d.mu.Unlock()
		return warn(ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return err
	}

	d.loc = d.loadLocationLocked()
	now := d.now().In(d.loc)
	triggers := make([]*trigger, 0, len(entries))
	for _, e := range entries {
		t, err := newTrigger(e, now)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		triggers = append(triggers, t)
	}
	tick := d.cfg.Tick
	if tick <= 0 {
		tick = DefaultTick
	}

	d.triggers = triggers
	d.running = true
	d.sup = rtsup.New(ctx, rtsup.WithLogger(d.log))
	sup := d.sup
	loc := d.loc
	d.mu.Unlock()

	d.metrics.SetRunning(true)
	d.metrics.SetTriggers(len(triggers))
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatcherStarted, Data: len(triggers)})

	sup.GoRestart("dispatch.tick", func(c context.Context) error {
		d.loop(c, tick)
		return nil
	}, loopRestartMin, loopRestartMax)
	sup.Go0("dispatch.watch", func(c context.Context) {
		<-c.Done()
		d.loopEnded(sup)
	})

	d.log.Info("scheduler started", logx.Int("triggers", len(triggers)), logx.String("tz", loc.String()), logx.Duration("tick", tick))
	if d.log.Enabled(logx.LevelDebug) {
		for _, t := range triggers {
			d.log.Debug("trigger registered", logx.String("at", t.entry.TimeOfDay), logx.String("spec", dailySpec(t.entry)), logx.Time("next", t.next))
		}
	}
	return nil
}

// Stop flips the running flag, blocks until the tick loop has exited and
// then discards all triggers. It is a no-op when not running. The
// dispatcher can be started again afterwards.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	start := time.Now()
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	sup := d.sup
	d.sup = nil
	d.mu.Unlock()

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}

	d.mu.Lock()
	d.triggers = nil
	d.mu.Unlock()

	d.metrics.SetRunning(false)
	d.metrics.SetTriggers(0)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatcherStopped})
	d.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Sync reconciles the trigger set with the store while running. Entries
// are append-only between clears, so a longer list only adds triggers for
// the new tail; a shorter list means the store was cleared, and every
// registered trigger is discarded before the set is rebuilt.
func (d *Dispatcher) Sync(entries []move.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	now := d.now().In(d.loc)

	if len(entries) < len(d.triggers) {
		d.log.Info("schedule cleared while running; discarding triggers", logx.Int("discarded", len(d.triggers)))
		d.triggers = nil
	}
	for _, e := range entries[len(d.triggers):] {
		t, err := newTrigger(e, now)
		if err != nil {
			return err
		}
		d.triggers = append(d.triggers, t)
		d.log.Debug("trigger registered", logx.String("at", e.TimeOfDay), logx.Time("next", t.next))
	}
	d.metrics.SetTriggers(len(d.triggers))
	return nil
}

// loopEnded disarms the dispatcher when its loop context ended without
// Stop (parent canceled), so Running reports false and Start works again.
func (d *Dispatcher) loopEnded(sup *rtsup.Supervisor) {
	d.mu.Lock()
	if d.sup != sup {
		// Stop owns this teardown.
		d.mu.Unlock()
		return
	}
	n := len(d.triggers)
	d.running = false
	d.triggers = nil
	d.sup = nil
	d.mu.Unlock()

	d.metrics.SetRunning(false)
	d.metrics.SetTriggers(0)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatcherStopped})
	d.log.Warn("scheduler loop ended without stop; scheduler disarmed", logx.Int("discarded", n))
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc := d.loc
	if loc == nil {
		loc = d.loadLocationLocked()
	}
	tick := d.cfg.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	snap := Snapshot{Running: d.running, Timezone: loc.String(), Tick: tick}
	for _, t := range d.triggers {
		snap.Triggers = append(snap.Triggers, TriggerInfo{Entry: t.entry, Next: t.next, Last: t.last})
	}
	return snap
}

func (d *Dispatcher) loop(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	d.runPending(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runPending(ctx)
		}
	}
}

// runPending fires every due trigger, earliest scheduled first (insertion
// order breaks ties), then reschedules each for its next day.
//
// The mutex is held across the sends so a concurrent clear or stop can
// never observe a firing from a discarded trigger. A blocked write stalls
// this tick, as does any serial write.
func (d *Dispatcher) runPending(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || ctx.Err() != nil {
		return
	}
	now := d.now().In(d.loc)

	type due struct {
		t         *trigger
		scheduled time.Time
	}
	var ready []due
	for _, t := range d.triggers {
		if t.due(now) {
			ready = append(ready, due{t: t, scheduled: t.next})
		}
	}
	if len(ready) == 0 {
		return
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].scheduled.Before(ready[j].scheduled) })

	for _, r := range ready {
		r.t.advance(now)
		d.fire(ctx, r.t.entry, r.scheduled, now)
	}
}

func (d *Dispatcher) fire(ctx context.Context, e move.Entry, scheduled, now time.Time) {
	port, _ := d.sender.Port()
	f := Firing{Entry: e, Scheduled: scheduled, FiredAt: now, Port: port}

	sent, err := d.send(ctx, e)
	switch {
	case err != nil:
		f.Error = err.Error()
		d.reportFailure(e, err)
		d.metrics.ObserveFiring(metrics.ResultFailed, e.Direction.String(), e.Steps, float64(now.Unix()))
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeMoveFailed, Time: now, Data: f})
	case !sent:
		f.Error = ErrNotConnected.Error()
		d.log.Warn("move skipped: device not connected", logx.String("at", e.TimeOfDay), logx.String("direction", e.Direction.String()), logx.Int("steps", e.Steps))
		d.metrics.ObserveFiring(metrics.ResultSkipped, e.Direction.String(), e.Steps, float64(now.Unix()))
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeMoveSkipped, Time: now, Data: f})
	default:
		d.log.Info("move sent", logx.String("at", e.TimeOfDay), logx.String("direction", e.Direction.String()), logx.Int("steps", e.Steps), logx.String("port", port))
		d.metrics.ObserveFiring(metrics.ResultSent, e.Direction.String(), e.Steps, float64(now.Unix()))
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeMoveSent, Time: now, Data: f})
	}
}

// send turns a panicking Sender into a failed firing so the remaining due
// triggers still run.
func (d *Dispatcher) send(ctx context.Context, e move.Entry) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			sent, err = false, fmt.Errorf("send panicked: %v", r)
		}
	}()
	return d.sender.Send(ctx, e.Direction, e.Steps)
}

// reportFailure logs write failures without flooding: one warning per
// failureWarnEvery, the rest at debug. The loop always continues.
func (d *Dispatcher) reportFailure(e move.Entry, err error) {
	fields := []logx.Field{logx.String("at", e.TimeOfDay), logx.String("direction", e.Direction.String()), logx.Int("steps", e.Steps), logx.Err(err)}
	if d.failWarn.Allow() {
		d.log.Warn("move write failed", fields...)
		return
	}
	d.log.Debug("move write failed (throttled)", fields...)
}

func (d *Dispatcher) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(d.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		d.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
