package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolProcessesAndDrainsOnShutdown(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]bool)
	pool := New("test", 3, 64, func(_ context.Context, item int) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[item] = true
		mu.Unlock()
		return nil
	}, discardLogger(), Hooks{})
	pool.Start()

	for i := 0; i < 50; i++ {
		if err := pool.Submit(i); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 50 {
		t.Fatalf("expected all 50 items processed before shutdown returned, got %d", len(seen))
	}
	if stats := pool.Stats(); stats.Completed != 50 || stats.Submitted != 50 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPoolSubmitNeverBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	var drops atomic.Int64
	pool := New("test", 1, 1, func(context.Context, int) error {
		<-release
		return nil
	}, discardLogger(), Hooks{OnDrop: func() { drops.Add(1) }})
	pool.Start()

	_ = pool.Submit(1)
	deadline := time.Now().Add(time.Second)
	for pool.Stats().Queued != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = pool.Submit(2)

	done := make(chan error, 1)
	go func() { done <- pool.Submit(3) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit blocked on a full queue")
	}
	if drops.Load() != 1 {
		t.Fatalf("expected drop hook once, got %d", drops.Load())
	}
	close(release)
	_ = pool.Shutdown(context.Background())
}

func TestPoolRecoversPanicsAndKeepsWorking(t *testing.T) {
	var panics atomic.Int64
	var processed atomic.Int64
	pool := New("test", 1, 8, func(_ context.Context, item int) error {
		if item == 0 {
			panic("boom")
		}
		processed.Add(1)
		return nil
	}, discardLogger(), Hooks{OnPanic: func(any) { panics.Add(1) }})
	pool.Start()

	for i := 0; i < 3; i++ {
		_ = pool.Submit(i)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if panics.Load() != 1 || processed.Load() != 2 {
		t.Fatalf("expected 1 panic and 2 processed, got %d/%d", panics.Load(), processed.Load())
	}
	if stats := pool.Stats(); stats.Panicked != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPoolReportsHandlerErrors(t *testing.T) {
	var failures atomic.Int64
	pool := New("test", 2, 8, func(context.Context, int) error {
		return errors.New("storage unavailable")
	}, discardLogger(), Hooks{OnDone: func(_ time.Duration, err error) {
		if err != nil {
			failures.Add(1)
		}
	}})
	pool.Start()
	_ = pool.Submit(1)
	_ = pool.Submit(2)
	_ = pool.Shutdown(context.Background())
	if failures.Load() != 2 {
		t.Fatalf("expected 2 failures, got %d", failures.Load())
	}
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	pool := New("test", 1, 1, func(context.Context, int) error { return nil }, discardLogger(), Hooks{})
	pool.Start()
	_ = pool.Shutdown(context.Background())
	if err := pool.Submit(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown should be a no-op, got %v", err)
	}
}

func TestPoolShutdownTimeoutCancelsHandlers(t *testing.T) {
	started := make(chan struct{})
	pool := New("test", 1, 1, func(ctx context.Context, _ int) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, discardLogger(), Hooks{})
	pool.Start()
	_ = pool.Submit(1)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
