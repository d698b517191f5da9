package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "motorsched/pkg/logx"
)

// restartCooldown resets the restart backoff once a run has stayed up this
// long.
const restartCooldown = 30 * time.Second

// Supervisor runs named goroutines on a shared context. Panics are recovered
// and recorded; Stop cancels and waits.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	firstErr error
	started  uint64
	tasks    map[string]*TaskStats
}

type Option func(*Supervisor)

// TaskStats is exposed on /healthz.
type TaskStats struct {
	Name     string    `json:"name"`
	Active   int       `json:"active"`
	Runs     uint64    `json:"runs"`
	Panics   uint64    `json:"panics"`
	Restarts uint64    `json:"restarts"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Active     int         `json:"active"`
	Started    uint64      `json:"started"`
	FirstError string      `json:"first_error,omitempty"`
	Goroutines []TaskStats `json:"goroutines"`
}

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the shared context on the first goroutine error
// or panic.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		tasks:  map[string]*TaskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Started: s.started}
	if s.firstErr != nil {
		snap.FirstError = s.firstErr.Error()
	}
	for _, t := range s.tasks {
		snap.Active += t.Active
		snap.Goroutines = append(snap.Goroutines, *t)
	}
	s.mu.Unlock()
	sort.Slice(snap.Goroutines, func(i, j int) bool { return snap.Goroutines[i].Name < snap.Goroutines[j].Name })
	return snap
}

// Go runs fn once in a named goroutine. A non-nil error other than
// context.Canceled, or a panic, is recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		if err := s.runOnce(name, fn, false); err != nil {
			s.fail(err)
		}
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart runs fn and reruns it after an error or panic, backing off
// exponentially from minBackoff to maxBackoff. It ends when fn returns nil
// or the context is done.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minBackoff, maxBackoff time.Duration) {
	if fn == nil {
		return
	}
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff = max(maxBackoff, minBackoff)

	s.spawn(func() {
		backoff := minBackoff
		for restart := false; s.ctx.Err() == nil; restart = true {
			began := time.Now()
			err := s.runOnce(name, fn, restart)
			if err == nil || s.ctx.Err() != nil {
				return
			}
			if time.Since(began) >= restartCooldown {
				backoff = minBackoff
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}
	})
}

func (s *Supervisor) spawn(body func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		body()
	}()
}

// runOnce calls fn with panic recovery and updates the task stats. It
// returns nil for a clean exit or cancellation.
func (s *Supervisor) runOnce(name string, fn func(context.Context) error, restart bool) (err error) {
	s.track(name, func(t *TaskStats) {
		s.started++
		t.Active++
		t.Runs++
		t.LastRun = time.Now()
		if restart {
			t.Restarts++
		}
	})
	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		s.track(name, func(t *TaskStats) {
			t.Active--
			if panicked {
				t.Panics++
			}
			if err != nil {
				t.LastErr = err.Error()
			}
		})
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()

	s.log.Debug("goroutine started", logx.String("name", name))
	if err = fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Supervisor) track(name string, fn func(t *TaskStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[name]
	if t == nil {
		t = &TaskStats{Name: name}
		s.tasks[name] = t
	}
	fn(t)
}

// Stop cancels the context and waits for every goroutine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}
