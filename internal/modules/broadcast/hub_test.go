package broadcast

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"courier/internal/types"
)

func newTestHub(buf int) *Hub {
	return NewHub(buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func recv(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func TestTopics(t *testing.T) {
	if got := LocationTopic("d1"); got != "delivery:d1:location" {
		t.Errorf("unexpected location topic %q", got)
	}
	if got := StatusTopic("d1"); got != "delivery:d1:status" {
		t.Errorf("unexpected status topic %q", got)
	}
	if got := AssignmentTopic("drv"); got != "driver:drv:assignment" {
		t.Errorf("unexpected assignment topic %q", got)
	}

	tests := []struct {
		topic string
		ok    bool
	}{
		{"delivery:abc:location", true},
		{"delivery:abc:status", true},
		{"driver:abc:assignment", true},
		{"driver:abc:location", false},
		{"delivery::status", false},
		{"order:abc:status", false},
		{"delivery:abc", false},
	}
	for _, tt := range tests {
		if _, _, _, ok := ParseTopic(tt.topic); ok != tt.ok {
			t.Errorf("ParseTopic(%q) ok=%v, want %v", tt.topic, ok, tt.ok)
		}
	}
}

func TestPublish_FanOut(t *testing.T) {
	h := newTestHub(4)
	a := h.Subscribe(LocationTopic("d1"))
	b := h.Subscribe(LocationTopic("d1"), StatusTopic("d1"))
	other := h.Subscribe(LocationTopic("d2"))

	n := h.PublishLocation("d1", LocationBroadcast{DriverID: "drv", Latitude: 1, Longitude: 2, DriverName: "Alice"})
	if n != 2 {
		t.Fatalf("expected 2 receivers, got %d", n)
	}
	for _, sub := range []*Subscription{a, b} {
		env := recv(t, sub)
		if env.Type != TypeLocation || env.Topic != "delivery:d1:location" {
			t.Fatalf("unexpected envelope %+v", env)
		}
		msg := env.Payload.(LocationBroadcast)
		if msg.DriverName != "Alice" {
			t.Fatalf("unexpected payload %+v", msg)
		}
	}
	select {
	case env := <-other.C():
		t.Fatalf("unrelated subscriber received %+v", env)
	default:
	}
}

func TestPublish_NoSubscribersIsNotAnError(t *testing.T) {
	h := newTestHub(1)
	if n := h.NotifyAssignment("nobody", AssignmentNotification{DeliveryID: "d1"}); n != 0 {
		t.Fatalf("expected 0 receivers, got %d", n)
	}
}

func TestPublishStatus_FillsDefaults(t *testing.T) {
	h := newTestHub(1)
	fixed := time.UnixMilli(1700000000000)
	h.now = func() time.Time { return fixed }
	sub := h.Subscribe(StatusTopic("d1"))

	h.PublishStatus("d1", StatusBroadcast{Status: "IN_TRANSIT"})
	msg := recv(t, sub).Payload.(StatusBroadcast)
	if msg.DeliveryID != "d1" || msg.Timestamp != fixed.UnixMilli() {
		t.Fatalf("defaults not applied: %+v", msg)
	}
}

func TestPublish_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	h := newTestHub(1)
	slow := h.Subscribe(StatusTopic("d1"))
	fast := h.Subscribe(StatusTopic("d1"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.PublishStatus("d1", StatusBroadcast{Status: "IN_TRANSIT"})
			<-fast.C()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if got := h.Stats().Dropped; got != 9 {
		t.Fatalf("expected 9 drops for the slow subscriber, got %d", got)
	}
	_ = slow
}

func TestClose_UnsubscribesEverywhere(t *testing.T) {
	h := newTestHub(2)
	sub := h.Subscribe(LocationTopic("d1"), StatusTopic("d1"), AssignmentTopic("drv"))
	if st := h.Stats(); st.Topics != 3 || st.Subscriptions != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	h.Close(sub)
	h.Close(sub)

	if st := h.Stats(); st.Topics != 0 || st.Subscriptions != 0 {
		t.Fatalf("expected empty hub after close, got %+v", st)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel")
	}
	if n := h.PublishStatus("d1", StatusBroadcast{Status: "DELIVERED"}); n != 0 {
		t.Fatalf("closed subscription still received, n=%d", n)
	}
	h.Join(sub, StatusTopic("d1"))
	if st := h.Stats(); st.Topics != 0 {
		t.Fatal("join after close must be ignored")
	}
}

func TestLeave(t *testing.T) {
	h := newTestHub(2)
	sub := h.Subscribe(LocationTopic("d1"), StatusTopic("d1"))
	h.Leave(sub, LocationTopic("d1"))

	if n := h.PublishLocation("d1", LocationBroadcast{}); n != 0 {
		t.Fatalf("expected no receivers after leave, got %d", n)
	}
	if n := h.PublishStatus("d1", StatusBroadcast{}); n != 1 {
		t.Fatalf("expected status still delivered, got %d", n)
	}
}

// TestConcurrentPublishAndClose runs with -race to check publish never sends on a closed channel.
func TestConcurrentPublishAndClose(t *testing.T) {
	h := newTestHub(8)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			id := types.ID("d1")
			for j := 0; j < 200; j++ {
				h.PublishLocation(id, LocationBroadcast{Latitude: float64(i), Longitude: float64(j)})
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				sub := h.Subscribe(LocationTopic("d1"))
				h.Close(sub)
			}
		}()
	}
	close(start)
	wg.Wait()

	if st := h.Stats(); st.Subscriptions != 0 {
		t.Fatalf("expected all subscriptions closed, got %+v", st)
	}
}
