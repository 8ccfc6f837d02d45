package tracking

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

func TestEmitPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/logs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(ingestTokenHeader); got != "secret" {
			t.Errorf("unexpected ingest token %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["eventType"] != EventTypeAPICall {
			t.Errorf("expected default eventType, got %v", payload["eventType"])
		}
		if payload["serviceName"] != "orders" || payload["latencyMs"] != float64(42) {
			t.Errorf("unexpected payload %v", payload)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	shipper, err := NewShipper(srv.URL+"/api/logs", WithIngestToken(" secret "))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	defer shipper.Close(context.Background())

	err = shipper.Emit(context.Background(), Event{ServiceName: "orders", Endpoint: "/a", Method: "GET", StatusCode: 200, LatencyMS: 42})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
}

func TestEmitGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("expected gzip encoding header")
		}
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip reader: %v", err)
			return
		}
		var ev Event
		if err := json.NewDecoder(gz).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		if ev.Endpoint != "/compressed" {
			t.Errorf("unexpected endpoint %q", ev.Endpoint)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	shipper, err := NewShipper(srv.URL, WithGzip(true))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	defer shipper.Close(context.Background())
	if err := shipper.Emit(context.Background(), Event{Endpoint: "/compressed"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

func TestEmitMapsStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusBadRequest, ErrInvalidArgument},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rejected", tc.status)
		}))
		shipper, err := NewShipper(srv.URL, WithHTTPClient(&http.Client{Timeout: time.Second}))
		if err != nil {
			t.Fatalf("new shipper: %v", err)
		}
		err = shipper.Emit(context.Background(), Event{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		_ = shipper.Close(context.Background())
		srv.Close()
	}
}

func TestNewShipperRejectsNonHTTPURL(t *testing.T) {
	if _, err := NewShipper("ftp://collector"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendDeliversInBackgroundAndCloseDrains(t *testing.T) {
	var mu sync.Mutex
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &ev)
		mu.Lock()
		received = append(received, ev.EventType)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	shipper, err := NewShipper(srv.URL, WithQueueSize(8))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	shipper.Send(Event{EventType: EventTypeAPICall})
	shipper.Send(Event{EventType: EventTypeRateLimitHit})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shipper.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != EventTypeAPICall || received[1] != EventTypeRateLimitHit {
		t.Fatalf("unexpected delivery order %v", received)
	}
	if err := shipper.Close(context.Background()); !errors.Is(err, ErrShipperClosed) {
		t.Fatalf("expected ErrShipperClosed on second close, got %v", err)
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	shipper, err := NewShipper("http://127.0.0.1:1/api/logs")
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	if err := shipper.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	shipper.Send(Event{})
	if shipper.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", shipper.Dropped())
	}
}

func TestSendSwallowsUnreachableCollector(t *testing.T) {
	shipper, err := NewShipper("http://127.0.0.1:1/api/logs", WithTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	shipper.Send(Event{Endpoint: "/x"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shipper.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}
