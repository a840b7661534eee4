package ws

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	got    chan []byte
	fail   bool
	closed chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{got: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeSubscriber) Send(p []byte) error {
	if f.fail {
		return errors.New("gone")
	}
	f.got <- p
	return nil
}

func (f *fakeSubscriber) Close() { close(f.closed) }

func TestHubBroadcastsByDeployment(t *testing.T) {
	hub := NewHub()
	a := newFakeSubscriber()
	b := newFakeSubscriber()
	hub.Register("dep-a", a)
	hub.Register("dep-b", b)

	hub.Broadcast("dep-a", []byte("hello"))

	select {
	case p := <-a.got:
		if string(p) != "hello" {
			t.Fatalf("unexpected payload %q", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
	if hub.Subscribers("dep-b") != 1 {
		t.Fatal("expected dep-b subscriber to remain")
	}
	select {
	case p := <-b.got:
		t.Fatalf("unexpected payload for other deployment %q", p)
	default:
	}
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub()
	bad := newFakeSubscriber()
	bad.fail = true
	hub.Register("dep", bad)
	hub.Broadcast("dep", []byte("x"))

	select {
	case <-bad.closed:
	case <-time.After(time.Second):
		t.Fatal("expected failing subscriber to be closed")
	}
	if n := hub.Subscribers("dep"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

// stalledSubscriber blocks every Send until released.
type stalledSubscriber struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
	closed  chan struct{}
}

func newStalledSubscriber() *stalledSubscriber {
	return &stalledSubscriber{release: make(chan struct{}), started: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stalledSubscriber) Send([]byte) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return errors.New("gone")
}

func (s *stalledSubscriber) Close() { close(s.closed) }

func TestHubStalledSubscriberDoesNotBlockOtherDeployments(t *testing.T) {
	hub := NewHub()
	stalled := newStalledSubscriber()
	t.Cleanup(func() { close(stalled.release) })
	healthy := newFakeSubscriber()
	hub.Register("job-a", stalled)
	hub.Register("job-b", healthy)

	hub.Broadcast("job-a", []byte("first"))
	select {
	case <-stalled.started:
	case <-time.After(time.Second):
		t.Fatal("expected stalled subscriber to receive a payload")
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < subscriberQueue+8; i++ {
			hub.Broadcast("job-a", []byte("backlog"))
		}
		for i := 0; i < 100; i++ {
			hub.Broadcast("job-b", []byte("tick"))
			select {
			case <-healthy.got:
			case <-time.After(time.Second):
				t.Errorf("job-b payload %d not delivered", i)
				return
			}
		}
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcasts blocked behind stalled subscriber")
	}

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers("job-a") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected stalled subscriber to be evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Evicted() != 1 {
		t.Fatalf("expected 1 eviction, got %d", hub.Evicted())
	}
	if hub.Subscribers("job-b") != 1 {
		t.Fatal("expected job-b subscriber to remain")
	}
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	// No run loop drains the channel.
	hub := &Hub{broadcast: make(chan message, 1)}
	hub.Broadcast("dep", []byte("a"))
	hub.Broadcast("dep", []byte("b"))
	hub.Broadcast("dep", []byte("c"))
	if hub.Dropped() != 2 {
		t.Fatalf("expected 2 dropped broadcasts, got %d", hub.Dropped())
	}
}

func TestSSEClientFramesAndClose(t *testing.T) {
	rec := httptest.NewRecorder()
	c := NewSSEClient(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := c.Send([]byte(`{"type":"log"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: {\"type\":\"log\"}\n\n") || !strings.Contains(body, ": ping\n\n") {
		t.Fatalf("unexpected frames %q", body)
	}

	c.Close()
	c.Close()
	select {
	case <-c.Done():
	default:
		t.Fatal("expected done channel to be closed")
	}
	if err := c.Send([]byte("late")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("late")) {
		t.Fatal("expected no writes after close")
	}
}
