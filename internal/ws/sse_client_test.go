package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSEClientWritesNamedAndUnnamedEvents(t *testing.T) {
	rr := httptest.NewRecorder()
	client := NewSSEClient(rr, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := client.SendEvent("alert", []byte(`{"id":"a"}`)); err != nil {
		t.Fatalf("send event: %v", err)
	}
	if err := client.Send([]byte(`{}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := client.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	want := "event: alert\ndata: {\"id\":\"a\"}\n\ndata: {}\n\n: ping\n\n"
	if rr.Body.String() != want {
		t.Fatalf("unexpected stream %q", rr.Body.String())
	}

	client.Close()
	select {
	case <-client.Done():
	default:
		t.Fatal("expected Done to be released by Close")
	}
	if err := client.Send([]byte("late")); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

type failingWriter struct {
	header http.Header
}

func (f *failingWriter) Header() http.Header { return f.header }
func (f *failingWriter) WriteHeader(int) {}
func (f *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSSEClientClosesOnWriteError(t *testing.T) {
	client := NewSSEClient(&failingWriter{header: http.Header{}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := client.Send([]byte(`{}`)); err == nil {
		t.Fatal("expected write error")
	}
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("expected stream to close after a failed write")
	}
	if err := client.Heartbeat(); err != io.EOF {
		t.Fatalf("expected EOF after failure, got %v", err)
	}
}
