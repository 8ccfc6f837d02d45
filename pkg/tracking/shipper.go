package tracking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// ErrUnauthorized indicates the collector rejected the ingest token.
var ErrUnauthorized = errors.New("tracking: unauthorized")

// ErrInvalidArgument indicates the collector rejected the payload with validation errors.
var ErrInvalidArgument = errors.New("tracking: invalid argument")

// ErrShipperClosed is returned by Close when called more than once.
var ErrShipperClosed = errors.New("tracking: shipper closed")

var (
	bufferPool = sync.Pool{New: func() any { return bytes.NewBuffer(make([]byte, 0, 1024)) }}
	gzipPool   = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	}}
)

// ShipperOption customises a Shipper.
type ShipperOption func(*Shipper)

// WithHTTPClient overrides the HTTP client used to reach the collector.
func WithHTTPClient(client *http.Client) ShipperOption {
	return func(s *Shipper) {
		if client != nil {
			s.client = client
		}
	}
}

// WithGzip compresses request bodies.
func WithGzip(enabled bool) ShipperOption {
	return func(s *Shipper) { s.gzip = enabled }
}

// WithIngestToken sets the shared token sent in X-Ingest-Token.
func WithIngestToken(token string) ShipperOption {
	return func(s *Shipper) { s.token = strings.TrimSpace(token) }
}

// WithQueueSize bounds the number of events buffered by Send.
func WithQueueSize(n int) ShipperOption {
	return func(s *Shipper) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithTimeout bounds each delivery attempt made by the background sender.
func WithTimeout(d time.Duration) ShipperOption {
	return func(s *Shipper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(log *slog.Logger) ShipperOption {
	return func(s *Shipper) {
		if log != nil {
			s.log = log
		}
	}
}

// Shipper delivers events to the collector. Send is fire-and-forget; Emit is synchronous.
type Shipper struct {
	endpoint  string
	token     string
	client    *http.Client
	gzip      bool
	timeout   time.Duration
	queueSize int
	log       *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewShipper creates a shipper posting to collectorURL, e.g. http://localhost:8080/api/logs.
func NewShipper(collectorURL string, opts ...ShipperOption) (*Shipper, error) {
	endpoint := strings.TrimSpace(collectorURL)
	if endpoint == "" {
		endpoint = defaultCollectorURL
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("tracking: collector url must be http(s): %q", endpoint)
	}
	s := &Shipper{
		endpoint:  endpoint,
		timeout:   defaultShipperTimeout,
		queueSize: defaultShipperQueue,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: s.timeout}
	}
	s.queue = make(chan Event, s.queueSize)
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Send enqueues the event for background delivery. It never blocks; events are dropped when the
// queue is full or the shipper is closed.
func (s *Shipper) Send(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
		s.log.Debug("tracking queue full, dropping event", "endpoint", event.Endpoint)
	}
}

// Dropped reports how many events Send discarded.
func (s *Shipper) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered or for ctx to end.
func (s *Shipper) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShipperClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shipper) run() {
	defer s.wg.Done()
	for event := range s.queue {
		s.deliver(event)
	}
}

func (s *Shipper) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Debug("tracking delivery panic", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Emit(ctx, event); err != nil {
		s.log.Debug("tracking delivery failed", "endpoint", event.Endpoint, "error", err)
	}
}

// Emit posts a single event and reports the outcome.
func (s *Shipper) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return errors.New("tracking: shipper not initialised")
	}
	if event.EventType == "" {
		event.EventType = EventTypeAPICall
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooledGzipBufferCap {
			bufferPool.Put(buf)
		}
	}()
	if err := s.encode(buf, event); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("build tracking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if s.token != "" {
		req.Header.Set(ingestTokenHeader, s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send tracking request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return nil
}

func (s *Shipper) encode(buf *bytes.Buffer, event Event) error {
	if !s.gzip {
		if err := json.NewEncoder(buf).Encode(event); err != nil {
			return fmt.Errorf("marshal tracking event: %w", err)
		}
		return nil
	}
	gz := gzipPool.Get().(*gzip.Writer)
	defer gzipPool.Put(gz)
	gz.Reset(buf)
	if err := json.NewEncoder(gz).Encode(event); err != nil {
		return fmt.Errorf("marshal tracking event: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress tracking event: %w", err)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(body))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	default:
		return fmt.Errorf("tracking request failed: %s", summary)
	}
}
