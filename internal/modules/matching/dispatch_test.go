package matching

import (
	"context"
	"errors"
	"sync"
	"testing"

	"courier/internal/modules/assignment"
	"courier/internal/modules/broadcast"
	"courier/internal/modules/delivery"
	"courier/internal/types"
)

type recordedEvent struct {
	key string
	msg any
}

type fakeEvents struct {
	mu   sync.Mutex
	sent []recordedEvent
	err  error
}

func (e *fakeEvents) PublishJSON(_ context.Context, key string, msg any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, recordedEvent{key: key, msg: msg})
	return e.err
}

type fakeAck struct {
	acked, nacked, requeued int
}

func (a *fakeAck) Ack(bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(_, requeue bool) error {
	a.nacked++
	if requeue {
		a.requeued++
	}
	return nil
}

type dispatchFixture struct {
	hub        *broadcast.Hub
	deliveries *delivery.MemoryStore
	events     *fakeEvents
	dispatcher *Dispatcher
}

func newDispatchFixture(t *testing.T) (*dispatchFixture, func(types.ID, *types.Point) types.ID) {
	t.Helper()
	r := newTestRegistry()
	f := &dispatchFixture{
		hub:        broadcast.NewHub(8, discard()),
		deliveries: delivery.NewMemoryStore(),
		events:     &fakeEvents{},
	}
	coord := assignment.NewCoordinator(r, f.deliveries, f.hub, assignment.PolicyRevert, discard())
	f.dispatcher = NewDispatcher(NewMatcher(r, Options{}, discard()), coord, f.deliveries, f.events, discard())
	place := func(userID types.ID, p *types.Point) types.ID {
		return placeDriver(t, r, userID, p).ID
	}
	return f, place
}

func created(lat, lng float64) DeliveryCreated {
	return DeliveryCreated{
		DeliveryID: types.NewID(),
		OrderID:    types.NewID(),
		Address:    "Champ de Mars",
		Latitude:   &lat,
		Longitude:  &lng,
	}
}

func TestDispatch_AssignsNearestDriver(t *testing.T) {
	f, place := newDispatchFixture(t)
	nearID := place("u1", &paris)
	place("u2", pt(48.95, 2.5))
	ev := created(eiffel.Lat, eiffel.Lng)

	notify := f.hub.Subscribe(broadcast.AssignmentTopic(nearID))
	cand, err := f.dispatcher.HandleDeliveryCreated(context.Background(), ev)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if cand.Driver.ID != nearID {
		t.Fatalf("expected %s, got %s", nearID, cand.Driver.ID)
	}

	del, err := f.deliveries.Get(context.Background(), ev.DeliveryID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if del.Status != delivery.StatusInTransit || del.Address != "Champ de Mars" {
		t.Fatalf("unexpected delivery %+v", del)
	}
	select {
	case env := <-notify.C():
		msg := env.Payload.(broadcast.AssignmentNotification)
		if msg.DeliveryID != ev.DeliveryID {
			t.Fatalf("unexpected notification %+v", msg)
		}
	default:
		t.Fatal("driver was not notified")
	}
	if len(f.events.sent) != 1 || f.events.sent[0].key != RoutingDeliveryAssigned {
		t.Fatalf("expected delivery.assigned event, got %+v", f.events.sent)
	}
}

func TestDispatch_Failures(t *testing.T) {
	f, _ := newDispatchFixture(t)
	ctx := context.Background()

	if _, err := f.dispatcher.HandleDeliveryCreated(ctx, created(eiffel.Lat, eiffel.Lng)); !errors.Is(err, ErrNoDriverAvailable) {
		t.Fatalf("expected ErrNoDriverAvailable, got %v", err)
	}
	noCoords := created(0, 0)
	noCoords.Latitude = nil
	if _, err := f.dispatcher.HandleDeliveryCreated(ctx, noCoords); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without coordinates, got %v", err)
	}
	badID := created(0, 0)
	badID.DeliveryID = "nope"
	if _, err := f.dispatcher.HandleDeliveryCreated(ctx, badID); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed id, got %v", err)
	}
	if len(f.events.sent) != 0 {
		t.Fatal("failed dispatch must not emit events")
	}
}

func TestDispatch_EventFailureIsNotFatal(t *testing.T) {
	f, place := newDispatchFixture(t)
	place("u1", &paris)
	f.events.err = errors.New("broker down")

	if _, err := f.dispatcher.HandleDeliveryCreated(context.Background(), created(eiffel.Lat, eiffel.Lng)); err != nil {
		t.Fatalf("event publish failure leaked: %v", err)
	}
}

func TestConsumer_Settlement(t *testing.T) {
	f, place := newDispatchFixture(t)
	c := NewConsumer(nil, f.dispatcher, ConsumerConfig{Queue: "q"}, discard())
	place("u1", &paris)
	ctx := context.Background()

	ok := &fakeAck{}
	c.handle(ctx, []byte(`{"deliveryId":"`+string(types.NewID())+`","orderId":"o1","address":"x","latitude":48.8584,"longitude":2.2945}`), ok)
	if ok.acked != 1 || ok.nacked != 0 {
		t.Fatalf("successful dispatch: acked=%d nacked=%d", ok.acked, ok.nacked)
	}

	noDriver := &fakeAck{}
	c.handle(ctx, []byte(`{"deliveryId":"`+string(types.NewID())+`","orderId":"o2","latitude":48.8584,"longitude":2.2945}`), noDriver)
	if noDriver.acked != 1 {
		t.Fatalf("no driver available must be acked, got %+v", noDriver)
	}

	garbage := &fakeAck{}
	c.handle(ctx, []byte(`{not json`), garbage)
	if garbage.acked != 1 {
		t.Fatalf("malformed payload must be acked, got %+v", garbage)
	}
}

func TestConsumer_RedeliveredEventAssignsOnce(t *testing.T) {
	f, place := newDispatchFixture(t)
	c := NewConsumer(nil, f.dispatcher, ConsumerConfig{Queue: "q"}, discard())
	place("u1", &paris)
	place("u2", &paris)
	ctx := context.Background()

	id := types.NewID()
	body := []byte(`{"deliveryId":"` + string(id) + `","orderId":"o1","latitude":48.8584,"longitude":2.2945}`)
	first, again := &fakeAck{}, &fakeAck{}
	c.handle(ctx, body, first)
	c.handle(ctx, body, again)

	if first.acked != 1 || again.acked != 1 || again.nacked != 0 {
		t.Fatalf("both deliveries must be acked: first=%+v again=%+v", first, again)
	}
	assigned := 0
	for _, ev := range f.events.sent {
		if ev.key == RoutingDeliveryAssigned {
			assigned++
		}
	}
	if assigned != 1 {
		t.Fatalf("expected a single delivery.assigned event, got %d", assigned)
	}
}

type failingStore struct {
	delivery.Store
}

func (failingStore) Ensure(context.Context, *delivery.Delivery) (*delivery.Delivery, error) {
	return nil, errors.New("db down")
}

func TestConsumer_InfrastructureErrorIsNacked(t *testing.T) {
	r := newTestRegistry()
	hub := broadcast.NewHub(1, discard())
	store := failingStore{Store: delivery.NewMemoryStore()}
	coord := assignment.NewCoordinator(r, store, hub, assignment.PolicyRevert, discard())
	d := NewDispatcher(NewMatcher(r, Options{}, discard()), coord, store, nil, discard())
	c := NewConsumer(nil, d, ConsumerConfig{Queue: "q"}, discard())

	ack := &fakeAck{}
	c.handle(context.Background(), []byte(`{"deliveryId":"`+string(types.NewID())+`","latitude":1,"longitude":1}`), ack)
	if ack.nacked != 1 || ack.requeued != 0 || ack.acked != 0 {
		t.Fatalf("expected nack without requeue, got %+v", ack)
	}
}
