package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// SSEWriteTimeout bounds each frame written to an SSE stream.
const SSEWriteTimeout = 5 * time.Second

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu        sync.Mutex
	writer    io.Writer
	rc        *http.ResponseController
	log       *slog.Logger
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	last      time.Time
}

// NewSSEClient builds an SSE client writing to w. Writes carry a deadline when the underlying
// connection supports one.
func NewSSEClient(w http.ResponseWriter, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		writer: w,
		rc:     http.NewResponseController(w),
		log:    logger,
		done:   make(chan struct{}),
		last:   time.Now().UTC(),
	}
}

// Send emits an unnamed data event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	return c.SendEvent("", payload)
}

// SendEvent emits a data event, tagged with an event name when one is given.
func (c *SSEClient) SendEvent(name string, payload []byte) error {
	if name != "" {
		return c.write("sse send failed", "event: %s\ndata: %s\n\n", name, payload)
	}
	return c.write("sse send failed", "data: %s\n\n", payload)
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.write("sse heartbeat failed", ": ping\n\n")
}

func (c *SSEClient) write(failure, format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return io.EOF
	}
	if err := c.rc.SetWriteDeadline(time.Now().Add(SSEWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.log.Debug("sse write deadline unavailable", "error", err)
	}
	_, err := fmt.Fprintf(c.writer, format, args...)
	if err == nil {
		err = c.rc.Flush()
		if errors.Is(err, http.ErrNotSupported) {
			err = nil
		}
	}
	if err != nil {
		c.log.Warn(failure, "error", err)
		c.Close()
		return err
	}
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed and releases Done. It never waits for an in-flight write.
func (c *SSEClient) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// Done is closed once the stream has been closed.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
