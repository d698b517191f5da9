package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"motorsched/internal/device"
	"motorsched/internal/device/devicetest"
	"motorsched/internal/dispatch"
	"motorsched/internal/eventbus"
	"motorsched/internal/move"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newConnected(t *testing.T) (*device.Channel, *devicetest.Device) {
	t.Helper()
	dev := devicetest.New()
	ch := device.New(device.WithOpener(dev.Open))
	if err := ch.Connect("/dev/ttyFAKE", 115200); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return ch, dev
}

func TestStartRefusals(t *testing.T) {
	t.Parallel()
	one := []move.Entry{{TimeOfDay: "10:00", Direction: move.Clockwise, Steps: 1}}

	ch, _ := newConnected(t)
	d := dispatch.New(dispatch.Config{Tick: time.Hour}, ch)
	err := d.Start(context.Background(), nil)
	var w *dispatch.OperationalWarning
	if !errors.As(err, &w) || !errors.Is(err, dispatch.ErrEmptySchedule) {
		t.Fatalf("empty schedule: err = %v", err)
	}

	closed := device.New(device.WithOpener(devicetest.New().Open))
	d2 := dispatch.New(dispatch.Config{Tick: time.Hour}, closed)
	if err := d2.Start(context.Background(), one); !errors.Is(err, dispatch.ErrNotConnected) {
		t.Fatalf("not connected: err = %v", err)
	}
	if d2.Running() {
		t.Fatal("refused start left the dispatcher running")
	}

	if err := d.Start(context.Background(), one); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = d.Stop(context.Background()) }()
	if err := d.Start(context.Background(), one); !errors.Is(err, dispatch.ErrAlreadyRunning) {
		t.Fatalf("second start: err = %v", err)
	}
}

func TestLoopFiresAndStops(t *testing.T) {
	t.Parallel()
	clk := &clock{t: time.Date(2024, 5, 1, 9, 59, 59, 0, time.UTC)}
	ch, dev := newConnected(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	d := dispatch.New(dispatch.Config{Tick: 5 * time.Millisecond, Timezone: "UTC"}, ch,
		dispatch.WithClock(clk.Now), dispatch.WithBus(bus))
	entries := []move.Entry{{TimeOfDay: "10:00", Direction: move.Clockwise, Steps: 1000}}
	if err := d.Start(context.Background(), entries); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk.Set(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	select {
	case <-dev.Received():
	case <-time.After(2 * time.Second):
		t.Fatal("move was not sent")
	}
	got := dev.Commands()
	if len(got) != 1 || got[0] != (move.Command{Direction: move.Clockwise, Steps: 1000}) {
		t.Fatalf("commands = %+v", got)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d.Running() || len(d.Snapshot().Triggers) != 0 {
		t.Fatal("dispatcher still armed after Stop")
	}
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	var seen []string
	for len(events) > 0 {
		seen = append(seen, (<-events).Type)
	}
	want := []string{eventbus.TypeDispatcherStarted, eventbus.TypeMoveSent, eventbus.TypeDispatcherStopped}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("events = %v, want %v", seen, want)
		}
	}
}

func TestRestartAfterStop(t *testing.T) {
	t.Parallel()
	ch, _ := newConnected(t)
	d := dispatch.New(dispatch.Config{Tick: time.Millisecond}, ch)
	entries := []move.Entry{{TimeOfDay: "03:00", Direction: move.CounterClockwise, Steps: 5}}

	for i := 0; i < 3; i++ {
		if err := d.Start(context.Background(), entries); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		if n := len(d.Snapshot().Triggers); n != 1 {
			t.Fatalf("Start #%d registered %d triggers", i, n)
		}
		if err := d.Stop(context.Background()); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
}

func TestStopFollowsParentContext(t *testing.T) {
	t.Parallel()
	ch, _ := newConnected(t)
	d := dispatch.New(dispatch.Config{Tick: time.Hour}, ch)
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx, []move.Entry{{TimeOfDay: "03:00", Direction: move.Clockwise, Steps: 1}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	start := time.Now()
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Stop waited on a full tick")
	}
}

func TestParentCancelDisarms(t *testing.T) {
	t.Parallel()
	ch, _ := newConnected(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	d := dispatch.New(dispatch.Config{Tick: time.Hour}, ch, dispatch.WithBus(bus))
	entries := []move.Entry{{TimeOfDay: "03:00", Direction: move.Clockwise, Steps: 1}}

	parent, cancel := context.WithCancel(context.Background())
	if err := d.Start(parent, entries); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for d.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Running() || len(d.Snapshot().Triggers) != 0 {
		t.Fatal("dispatcher still armed after its loop context ended")
	}
	if got := (<-events).Type; got != eventbus.TypeDispatcherStarted {
		t.Fatalf("first event = %s", got)
	}
	if got := (<-events).Type; got != eventbus.TypeDispatcherStopped {
		t.Fatalf("second event = %s", got)
	}

	if err := d.Start(parent, entries); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start on a done context: err = %v", err)
	}
	if err := d.Start(context.Background(), entries); err != nil {
		t.Fatalf("Start after disarm: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
