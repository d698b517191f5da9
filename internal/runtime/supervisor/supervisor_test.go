package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStopWaitsForGoroutines(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var exited atomic.Bool
	s.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		exited.Store(true)
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if !exited.Load() {
		t.Fatal("Stop returned before goroutine exited")
	}
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("panic did not cancel supervisor")
	}
	_ = s.Wait(context.Background())
	if s.Err() == nil {
		t.Fatal("expected first error")
	}
	snap := s.Snapshot()
	if len(snap.Goroutines) != 1 || snap.Goroutines[0].Panics != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runs = %d, never succeeded", runs.Load())
	}
	_ = s.Stop(context.Background())
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}
