// README: In-process pub/sub hub; publish never blocks and slow subscribers lose messages.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"courier/internal/types"
)

const DefaultBufferSize = 32

type Subscription struct {
	ch     chan Envelope
	topics map[string]struct{}
	closed bool
}

// C yields published envelopes. It is closed by Hub.Close.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Subscription]struct{}
	bufSize int
	dropped atomic.Int64
	log     *slog.Logger
	now     func() time.Time
}

func NewHub(bufSize int, log *slog.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Hub{
		topics:  make(map[string]map[*Subscription]struct{}),
		bufSize: bufSize,
		log:     log.With("component", "broadcast_hub"),
		now:     time.Now,
	}
}

// Subscribe returns a new subscription attached to the given topics.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		ch:     make(chan Envelope, h.bufSize),
		topics: make(map[string]struct{}),
	}
	for _, t := range topics {
		h.Join(sub, t)
	}
	return sub
}

func (h *Hub) Join(sub *Subscription, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	sub.topics[topic] = struct{}{}
}

func (h *Hub) Leave(sub *Subscription, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub, topic)
}

// Close detaches sub from every topic it held and closes its channel. Safe to call twice.
func (h *Hub) Close(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	for t := range sub.topics {
		h.leaveLocked(sub, t)
	}
	sub.closed = true
	close(sub.ch)
}

func (h *Hub) leaveLocked(sub *Subscription, topic string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, sub)
	delete(sub.topics, topic)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Publish fans msg out to the topic and returns how many subscribers accepted it.
func (h *Hub) Publish(topic, msgType string, payload any) int {
	env := Envelope{Topic: topic, Type: msgType, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- env:
			sent++
		default:
			h.dropped.Add(1)
			h.log.Debug("subscriber buffer full, message dropped", "topic", topic)
		}
	}
	return sent
}

func (h *Hub) PublishLocation(deliveryID types.ID, msg LocationBroadcast) int {
	return h.Publish(LocationTopic(deliveryID), TypeLocation, msg)
}

// PublishStatus fills DeliveryID and a millisecond timestamp when the caller left them empty.
func (h *Hub) PublishStatus(deliveryID types.ID, msg StatusBroadcast) int {
	if msg.DeliveryID == "" {
		msg.DeliveryID = deliveryID
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = h.now().UnixMilli()
	}
	return h.Publish(StatusTopic(deliveryID), TypeStatus, msg)
}

func (h *Hub) NotifyAssignment(driverID types.ID, msg AssignmentNotification) int {
	return h.Publish(AssignmentTopic(driverID), TypeAssignment, msg)
}

type Stats struct {
	Topics        int   `json:"topics"`
	Subscriptions int   `json:"subscriptions"`
	Dropped       int64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Subscription]struct{})
	for _, subs := range h.topics {
		for s := range subs {
			seen[s] = struct{}{}
		}
	}
	return Stats{Topics: len(h.topics), Subscriptions: len(seen), Dropped: h.dropped.Load()}
}
