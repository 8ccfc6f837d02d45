package tracking

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/apitrail/pkg/ratelimit"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Send(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type panickingSink struct{}

func (panickingSink) Send(Event) { panic("sink exploded") }

func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := current
		current = current.Add(step)
		return t
	}
}

func TestMiddlewareRecordsAPICall(t *testing.T) {
	sink := &recordingSink{}
	mw := NewMiddleware("orders", ratelimit.New(10), sink, WithClock(steppingClock(120*time.Millisecond)))
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"sku":"a"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated || rr.Body.String() != "created" {
		t.Fatalf("response altered: %d %q", rr.Code, rr.Body.String())
	}
	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventType != EventTypeAPICall || ev.ServiceName != "orders" || ev.Endpoint != "/api/orders" || ev.Method != http.MethodPost {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.StatusCode != http.StatusCreated || ev.ResponseSize != int64(len("created")) || ev.RequestSize != int64(len(`{"sku":"a"}`)) {
		t.Fatalf("unexpected sizes/status %+v", ev)
	}
	if ev.LatencyMS != 120 {
		t.Fatalf("expected latency 120ms, got %d", ev.LatencyMS)
	}
}

func TestMiddlewareEmitsRateLimitHitAfterAPICall(t *testing.T) {
	sink := &recordingSink{}
	frozen := ratelimit.WithClock(func() time.Duration { return 0 })
	mw := NewMiddleware("orders", ratelimit.New(1, frozen), sink)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/users", nil))
	}

	events := sink.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []string{EventTypeAPICall, EventTypeAPICall, EventTypeRateLimitHit}
	for i, ev := range events {
		if ev.EventType != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.EventType)
		}
	}
	if events[2].Endpoint != events[1].Endpoint || events[2].Timestamp != events[1].Timestamp {
		t.Fatalf("rate-limit-hit should copy the api-call event: %+v vs %+v", events[2], events[1])
	}
}

func TestMiddlewareDefaultsStatusToOK(t *testing.T) {
	sink := &recordingSink{}
	handler := NewMiddleware("svc", nil, sink).Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/empty", nil))

	events := sink.snapshot()
	if len(events) != 1 || events[0].StatusCode != http.StatusOK {
		t.Fatalf("expected one 200 event, got %+v", events)
	}
}

func TestMiddlewareSkipsExcludedPaths(t *testing.T) {
	sink := &recordingSink{}
	handler := NewMiddleware("svc", nil, sink, WithExcludedPrefixes("/internal/")).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, path := range []string{"/healthz", "/metrics", "/internal/debug"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := len(sink.snapshot()); got != 0 {
		t.Fatalf("expected no events for excluded paths, got %d", got)
	}
}

func TestMiddlewareSwallowsSinkPanics(t *testing.T) {
	handler := NewMiddleware("svc", ratelimit.New(0), panickingSink{}).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected wrapped status to pass through, got %d", rr.Code)
	}
}

func TestMiddlewareRecordsHandlerPanicAsServerError(t *testing.T) {
	sink := &recordingSink{}
	handler := NewMiddleware("svc", nil, sink).Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler failure")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected handler panic to propagate")
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/crash", nil))
	}()

	events := sink.snapshot()
	if len(events) != 1 || events[0].StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected one 500 event, got %+v", events)
	}
}
