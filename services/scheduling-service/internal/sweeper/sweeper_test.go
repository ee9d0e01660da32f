package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingEngine struct {
	calls atomic.Int64
	err   error
}

func (e *countingEngine) SweepMissed(_ context.Context, _ time.Time) (int, error) {
	e.calls.Add(1)
	return 0, e.err
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	eng := &countingEngine{}
	s := New(eng, slog.Default(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for eng.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 sweeps, got %d", eng.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestRun_KeepsGoingAfterErrors(t *testing.T) {
	eng := &countingEngine{err: errors.New("db down")}
	s := New(eng, slog.Default(), 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if eng.calls.Load() < 2 {
		t.Fatalf("sweeper should retry after errors, got %d calls", eng.calls.Load())
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	s := New(&countingEngine{}, slog.Default(), 0)
	if s.interval != time.Minute {
		t.Fatalf("expected 1m default interval, got %s", s.interval)
	}
}
