package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) read() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

func TestTryAcquireAdmitsUpToLimitWithinWindow(t *testing.T) {
	clock := &fakeClock{}
	limiter := New(100, WithClock(clock.read))

	admitted, rejected := 0, 0
	for i := 0; i < 150; i++ {
		if limiter.TryAcquire() {
			if rejected > 0 {
				t.Fatalf("call %d admitted after a rejection", i)
			}
			admitted++
		} else {
			rejected++
		}
	}
	if admitted != 100 || rejected != 50 {
		t.Fatalf("expected 100 admitted / 50 rejected, got %d / %d", admitted, rejected)
	}
}

func TestTryAcquireResetsAfterWindow(t *testing.T) {
	clock := &fakeClock{}
	limiter := New(2, WithClock(clock.read))

	if !limiter.TryAcquire() || !limiter.TryAcquire() {
		t.Fatal("expected first two calls admitted")
	}
	if limiter.TryAcquire() {
		t.Fatal("expected third call rejected")
	}

	clock.advance(999 * time.Millisecond)
	if limiter.TryAcquire() {
		t.Fatal("expected rejection before the window elapses")
	}

	clock.advance(time.Millisecond)
	if !limiter.TryAcquire() {
		t.Fatal("expected admission once the window elapsed")
	}
}

func TestTryAcquireRejectsEverythingWithZeroLimit(t *testing.T) {
	clock := &fakeClock{}
	for _, limit := range []int{0, -5} {
		limiter := New(limit, WithClock(clock.read))
		for i := 0; i < 10; i++ {
			if limiter.TryAcquire() {
				t.Fatalf("limit %d: call %d admitted", limit, i)
			}
		}
		clock.advance(2 * time.Second)
		if limiter.TryAcquire() {
			t.Fatalf("limit %d: admitted after window reset", limit)
		}
	}
}

func TestTryAcquireConcurrentCallsNeverExceedLimit(t *testing.T) {
	clock := &fakeClock{}
	limiter := New(50, WithClock(clock.read))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if limiter.TryAcquire() {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 50 {
		t.Fatalf("expected exactly 50 admissions in a single window, got %d", got)
	}
}

func TestWithWindowOverridesLength(t *testing.T) {
	clock := &fakeClock{}
	limiter := New(1, WithClock(clock.read), WithWindow(10*time.Second))
	if limiter.Window() != 10*time.Second || limiter.Limit() != 1 {
		t.Fatalf("unexpected configuration window=%s limit=%d", limiter.Window(), limiter.Limit())
	}
	limiter.TryAcquire()
	clock.advance(5 * time.Second)
	if limiter.TryAcquire() {
		t.Fatal("expected rejection inside the longer window")
	}
	clock.advance(5 * time.Second)
	if !limiter.TryAcquire() {
		t.Fatal("expected admission after the longer window")
	}
}

func TestNewUsesRealClockByDefault(t *testing.T) {
	limiter := New(1)
	if !limiter.TryAcquire() {
		t.Fatal("expected first call admitted")
	}
	if limiter.Window() != DefaultWindow {
		t.Fatalf("expected default window, got %s", limiter.Window())
	}
}

func TestTryAcquireExactAcrossConcurrentWindowResets(t *testing.T) {
	clock := &fakeClock{}
	limiter := New(50, WithClock(clock.read))

	for round := 0; round < 20; round++ {
		var admitted atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 16; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < 20; i++ {
					if limiter.TryAcquire() {
						admitted.Add(1)
					}
				}
			}()
		}
		close(start)
		wg.Wait()

		if got := admitted.Load(); got != 50 {
			t.Fatalf("round %d: expected exactly 50 admissions, got %d", round, got)
		}
		clock.advance(time.Second)
	}
}

func TestAcquireReportsCountAndReset(t *testing.T) {
	clock := &fakeClock{}
	limiter := New(2, WithClock(clock.read), WithWindow(10*time.Second))

	clock.advance(3 * time.Second)
	d := limiter.Acquire()
	if !d.Allowed || d.Count != 1 || d.ResetIn != 7*time.Second {
		t.Fatalf("unexpected first decision %+v", d)
	}
	limiter.Acquire()
	d = limiter.Acquire()
	if d.Allowed || d.Count != 2 || d.ResetIn != 7*time.Second {
		t.Fatalf("unexpected rejection %+v", d)
	}

	clock.advance(7 * time.Second)
	d = limiter.Acquire()
	if !d.Allowed || d.Count != 1 || d.ResetIn != 10*time.Second {
		t.Fatalf("expected a fresh window, got %+v", d)
	}
}
