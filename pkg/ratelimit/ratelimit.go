// Package ratelimit provides a process-local fixed-window admission counter.
//
// The limiter observes traffic; callers decide what to do with a rejection. Bursts of up to
// twice the limit can be admitted around a window boundary.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// DefaultWindow is the window length used when none is configured.
const DefaultWindow = time.Second

// Option customises a FixedWindow.
type Option func(*FixedWindow)

// WithWindow overrides the window length. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(w *FixedWindow) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithClock injects a monotonic clock returning the elapsed time since an arbitrary origin.
func WithClock(clock func() time.Duration) Option {
	return func(w *FixedWindow) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// FixedWindow admits at most limit calls per window. It is safe for concurrent use and never blocks.
type FixedWindow struct {
	limit  int64
	window time.Duration
	clock  func() time.Duration

	state atomic.Pointer[windowState]
}

// windowState is replaced as a whole so a reset and the admissions after it cannot interleave.
type windowState struct {
	start int64
	count int64
}

// New constructs a limiter admitting limit calls per window. A limit of zero or less rejects every call.
func New(limit int, opts ...Option) *FixedWindow {
	base := time.Now()
	w := &FixedWindow{
		limit:  int64(limit),
		window: DefaultWindow,
		clock:  func() time.Duration { return time.Since(base) },
	}
	for _, opt := range opts {
		opt(w)
	}
	w.state.Store(&windowState{start: int64(w.clock())})
	return w
}

// Limit reports the configured number of admissions per window.
func (w *FixedWindow) Limit() int {
	return int(w.limit)
}

// Window reports the configured window length.
func (w *FixedWindow) Window() time.Duration {
	return w.window
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed bool
	// Count is the number of calls admitted in the current window.
	Count int
	// ResetIn is the time left until the current window ends.
	ResetIn time.Duration
}

// TryAcquire records one call and reports whether it fits within the current window.
func (w *FixedWindow) TryAcquire() bool {
	return w.Acquire().Allowed
}

// Acquire records one call and describes the window it landed in. Rejected calls are not counted.
func (w *FixedWindow) Acquire() Decision {
	if w.limit <= 0 {
		return Decision{ResetIn: w.window}
	}
	now := int64(w.clock())
	for {
		cur := w.state.Load()
		next := windowState{start: cur.start, count: cur.count + 1}
		if now-cur.start >= int64(w.window) {
			next = windowState{start: now, count: 1}
		}
		resetIn := time.Duration(next.start + int64(w.window) - now)
		if next.count > w.limit {
			return Decision{Count: int(cur.count), ResetIn: resetIn}
		}
		if w.state.CompareAndSwap(cur, &next) {
			return Decision{Allowed: true, Count: int(next.count), ResetIn: resetIn}
		}
	}
}
