package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher and the controller.
const (
	TypeDispatcherStarted = "dispatcher.started"
	TypeDispatcherStopped = "dispatcher.stopped"
	TypeMoveSent          = "move.sent"
	TypeMoveFailed        = "move.failed"
	TypeMoveSkipped       = "move.skipped" // fired while the channel was closed
	TypeScheduleChanged   = "schedule.changed"
	TypeDeviceConnected   = "device.connected"
	TypeDeviceClosed      = "device.disconnected"
)

// Event is a small in-memory signal used to decouple the dispatcher from
// its observers (journal, metrics, shell notices).
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels; slow ones drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything; used when a component is built without a bus.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	// mu is held for reading across sends so Unsubscribe never closes a
	// channel that Publish is writing to.
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
