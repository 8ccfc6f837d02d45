package tracking

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/splax/apitrail/pkg/ratelimit"
)

// Sink accepts captured events. Implementations must not block.
type Sink interface {
	Send(Event)
}

// MiddlewareOption customises a Middleware.
type MiddlewareOption func(*Middleware)

// WithExcludedPrefixes skips instrumentation for request paths starting with any prefix.
func WithExcludedPrefixes(prefixes ...string) MiddlewareOption {
	return func(m *Middleware) {
		m.excluded = append(m.excluded, prefixes...)
	}
}

// WithMiddlewareLogger sets the logger used for swallowed failures.
func WithMiddlewareLogger(log *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the wall clock used for timestamps and latency.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(m *Middleware) {
		if now != nil {
			m.now = now
		}
	}
}

// Middleware records one api-call event per request and a rate-limit-hit copy when the local
// limiter rejects admission. It never changes the wrapped response.
type Middleware struct {
	service  string
	limiter  *ratelimit.FixedWindow
	sink     Sink
	excluded []string
	now      func() time.Time
	log      *slog.Logger
}

// NewMiddleware builds the interceptor. A nil limiter disables rate-limit-hit events.
func NewMiddleware(service string, limiter *ratelimit.FixedWindow, sink Sink, opts ...MiddlewareOption) *Middleware {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "default"
	}
	m := &Middleware{
		service:  service,
		limiter:  limiter,
		sink:     sink,
		excluded: []string{"/healthz", "/metrics"},
		now:      time.Now,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap instruments next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.sink == nil || m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		start := m.now()
		rec := &recordingWriter{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				if rec.status == 0 {
					rec.status = http.StatusInternalServerError
				}
				m.record(r, rec, start)
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)
		m.record(r, rec, start)
	})
}

func (m *Middleware) skip(path string) bool {
	for _, prefix := range m.excluded {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *Middleware) record(r *http.Request, rec *recordingWriter, start time.Time) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Debug("tracking capture panic", "panic", p)
		}
	}()
	end := m.now()
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	requestSize := r.ContentLength
	if requestSize < 0 {
		requestSize = 0
	}
	latency := end.Sub(start).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	event := Event{
		ServiceName:  m.service,
		Endpoint:     r.URL.Path,
		Method:       r.Method,
		RequestSize:  requestSize,
		ResponseSize: rec.bytes,
		StatusCode:   status,
		Timestamp:    end.UTC(),
		LatencyMS:    latency,
		EventType:    EventTypeAPICall,
	}
	m.sink.Send(event)

	if m.limiter != nil && !m.limiter.TryAcquire() {
		hit := event
		hit.EventType = EventTypeRateLimitHit
		m.sink.Send(hit)
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *recordingWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *recordingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *recordingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
