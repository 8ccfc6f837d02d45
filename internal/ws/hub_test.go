package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	msgs    [][]byte
	fail    bool
	closed  bool
	closeCh chan struct{}
}

func newFakeSubscriber(fail bool) *fakeSubscriber {
	return &fakeSubscriber{fail: fail, closeCh: make(chan struct{})}
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.msgs = append(f.msgs, payload)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
}

func (f *fakeSubscriber) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsToTopicSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	events := newFakeSubscriber(false)
	other := newFakeSubscriber(false)
	hub.Register("events", events)
	hub.Register("other", other)

	if !hub.Broadcast("events", []byte(`{"kind":"alert"}`)) {
		t.Fatal("expected broadcast to be accepted")
	}
	waitFor(t, func() bool { return events.received() == 1 })
	if other.received() != 0 {
		t.Fatalf("expected other topic untouched, got %d", other.received())
	}
	if hub.Subscribers("events") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers("events"))
	}
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	bad := newFakeSubscriber(true)
	hub.Register("events", bad)
	hub.Broadcast("events", []byte("x"))

	select {
	case <-bad.closeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected failing subscriber to be closed")
	}
	waitFor(t, func() bool { return hub.Subscribers("events") == 0 })
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub := newFakeSubscriber(false)
	hub.Register("events", sub)
	hub.Unregister("events", sub)
	if hub.Subscribers("events") != 0 {
		t.Fatal("expected subscriber removed")
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	sub := newFakeSubscriber(false)
	hub.Register("events", sub)
	hub.Close()

	select {
	case <-sub.closeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscriber closed on hub close")
	}
	if hub.Broadcast("events", []byte("late")) {
		t.Fatal("expected broadcast after close to be rejected")
	}
	hub.Close()
}

type stalledSubscriber struct {
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newStalledSubscriber() *stalledSubscriber {
	return &stalledSubscriber{release: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stalledSubscriber) Send([]byte) error {
	<-s.release
	return nil
}

func (s *stalledSubscriber) Close() {
	s.once.Do(func() { close(s.closed) })
}

func TestHubEvictsStalledSubscriberWithoutBlockingBroadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	stalled := newStalledSubscriber()
	defer close(stalled.release)
	hub.Register("events", stalled)

	start := time.Now()
	for i := 0; i < OutboxSize+5; i++ {
		hub.Broadcast("events", []byte("x"))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("broadcast blocked on a stalled subscriber for %s", elapsed)
	}

	select {
	case <-stalled.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected stalled subscriber to be evicted")
	}
	waitFor(t, func() bool { return hub.Subscribers("events") == 0 })
	if hub.Evicted() != 1 {
		t.Fatalf("expected one eviction, got %d", hub.Evicted())
	}

	healthy := newFakeSubscriber(false)
	hub.Register("events", healthy)
	if !hub.Broadcast("events", []byte("after")) {
		t.Fatal("expected broadcast to be accepted")
	}
	waitFor(t, func() bool { return healthy.received() == 1 })
}
