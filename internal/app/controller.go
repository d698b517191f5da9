package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"motorsched/internal/device"
	"motorsched/internal/dispatch"
	"motorsched/internal/eventbus"
	"motorsched/internal/metrics"
	"motorsched/internal/move"
	"motorsched/internal/schedule"
	"motorsched/internal/storage"
	logx "motorsched/pkg/logx"
)

// Controller owns the schedule, the device channel and the dispatcher and is
// the only surface the shell and the CLI talk to. Inputs are raw strings.
type Controller struct {
	// mu serializes schedule mutations so the store and the dispatcher's
	// trigger set change together.
	mu sync.Mutex

	store   *schedule.Store
	channel *device.Channel
	disp    *dispatch.Dispatcher
	journal storage.Store

	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	ports   func() ([]string, error)
}

// ControllerDeps wires a Controller. Only Channel and Dispatcher are required.
type ControllerDeps struct {
	Store      *schedule.Store
	Channel    *device.Channel
	Dispatcher *dispatch.Dispatcher
	Journal    storage.Store // nil when storage is disabled
	Logger     logx.Logger
	Bus        eventbus.Bus
	Metrics    *metrics.Metrics
	ListPorts  func() ([]string, error) // defaults to device.ListPorts
}

func NewController(d ControllerDeps) *Controller {
	c := &Controller{
		store:   d.Store,
		channel: d.Channel,
		disp:    d.Dispatcher,
		journal: d.Journal,
		log:     d.Logger,
		bus:     d.Bus,
		metrics: d.Metrics,
		ports:   d.ListPorts,
	}
	if c.store == nil {
		c.store = schedule.New()
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.bus == nil {
		c.bus = eventbus.Nop()
	}
	if c.ports == nil {
		c.ports = device.ListPorts
	}
	return c
}

// Status is a point-in-time view for the shell and /healthz.
type Status struct {
	Connected bool                   `json:"connected"`
	Port      string                 `json:"port,omitempty"`
	Baud      int                    `json:"baud,omitempty"`
	Running   bool                   `json:"running"`
	Entries   int                    `json:"entries"`
	Timezone  string                 `json:"timezone"`
	Triggers  []dispatch.TriggerInfo `json:"triggers,omitempty"`
}

func (c *Controller) Connect(port string, baud int) error {
	if err := c.channel.Connect(port, baud); err != nil {
		return err
	}
	c.metrics.SetConnected(true)
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeDeviceConnected, Data: port})
	return nil
}

func (c *Controller) Disconnect() error {
	wasOpen := c.channel.IsOpen()
	err := c.channel.Disconnect()
	c.metrics.SetConnected(false)
	if wasOpen {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeDeviceClosed})
	}
	return err
}

// Add validates the raw fields and appends the entry. While the dispatcher
// runs the new entry gets a trigger immediately.
func (c *Controller) Add(rawTime, rawDirection, rawSteps string) (move.Entry, error) {
	e, err := move.Parse(rawTime, rawDirection, rawSteps)
	if err != nil {
		return move.Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Add(e); err != nil {
		return move.Entry{}, err
	}
	if err := c.disp.Sync(c.store.List()); err != nil {
		c.log.Warn("trigger registration failed", logx.String("at", e.TimeOfDay), logx.Err(err))
	}
	c.scheduleChanged()
	c.log.Info("move added", logx.String("at", e.TimeOfDay), logx.String("direction", e.Direction.String()), logx.Int("steps", e.Steps))
	return e, nil
}

func (c *Controller) List() []move.Entry { return c.store.List() }

// Render formats the schedule one entry per line.
func (c *Controller) Render() string { return schedule.Render(c.store.List()) }

// Clear empties the schedule and discards every registered trigger, so
// nothing cleared fires afterwards even while running.
func (c *Controller) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.store.Clear()
	_ = c.disp.Sync(nil)
	c.scheduleChanged()
	c.log.Info("schedule cleared", logx.Int("removed", n))
	return n
}

func (c *Controller) scheduleChanged() {
	n := c.store.Len()
	c.metrics.SetScheduleSize(n)
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleChanged, Data: n})
}

// Start arms the dispatcher with the current schedule. ctx bounds the tick
// loop's lifetime.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disp.Start(ctx, c.store.List())
}

func (c *Controller) Stop(ctx context.Context) error { return c.disp.Stop(ctx) }

func (c *Controller) Running() bool { return c.disp.Running() }

func (c *Controller) Status() Status {
	port, baud := c.channel.Port()
	snap := c.disp.Snapshot()
	return Status{
		Connected: c.channel.IsOpen(),
		Port:      port,
		Baud:      baud,
		Running:   snap.Running,
		Entries:   c.store.Len(),
		Timezone:  snap.Timezone,
		Triggers:  snap.Triggers,
	}
}

func (c *Controller) Ports() ([]string, error) { return c.ports() }

// History returns up to n journaled firings, oldest first.
func (c *Controller) History(ctx context.Context, n int) ([]storage.Record, error) {
	if c.journal == nil {
		return nil, storage.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.journal.Recent(ctx, n)
}

// IsWarning reports whether err is an operational warning (a refused start)
// rather than a failure.
func IsWarning(err error) bool {
	var w *dispatch.OperationalWarning
	return errors.As(err, &w)
}
