// README: Dispatcher turns a delivery-created notification into an assignment to the nearest driver.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"courier/internal/modules/assignment"
	"courier/internal/modules/delivery"
	"courier/internal/types"
)

const RoutingDeliveryAssigned = "delivery.assigned"

// DeliveryCreated is published by the order service when a delivery needs a driver.
type DeliveryCreated struct {
	DeliveryID     types.ID `json:"deliveryId"`
	OrderID        types.ID `json:"orderId"`
	TrackingNumber string   `json:"trackingNumber,omitempty"`
	Address        string   `json:"address"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

// DeliveryAssigned is emitted back to the order service after a successful dispatch.
type DeliveryAssigned struct {
	DeliveryID types.ID  `json:"deliveryId"`
	OrderID    types.ID  `json:"orderId"`
	DriverID   types.ID  `json:"driverId"`
	DistanceKm float64   `json:"distanceKm"`
	AssignedAt time.Time `json:"assignedAt"`
}

type Assigner interface {
	Assign(ctx context.Context, driverID, deliveryID types.ID) (assignment.Outcome, error)
}

// EventPublisher forwards dispatch results to the broker; optional.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, msg any) error
}

type Dispatcher struct {
	matcher    *Matcher
	assigner   Assigner
	deliveries delivery.Store
	events     EventPublisher
	log        *slog.Logger
	now        func() time.Time
}

func NewDispatcher(matcher *Matcher, assigner Assigner, deliveries delivery.Store, events EventPublisher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		matcher:    matcher,
		assigner:   assigner,
		deliveries: deliveries,
		events:     events,
		log:        log.With("component", "dispatcher"),
		now:        time.Now,
	}
}

// HandleDeliveryCreated makes one attempt: nearest driver, then assign. The caller owns any retry.
func (d *Dispatcher) HandleDeliveryCreated(ctx context.Context, ev DeliveryCreated) (Candidate, error) {
	if _, ok := types.ParseID(string(ev.DeliveryID)); !ok {
		return Candidate{}, fmt.Errorf("%w: malformed delivery id %q", ErrValidation, ev.DeliveryID)
	}
	if ev.Latitude == nil || ev.Longitude == nil {
		return Candidate{}, fmt.Errorf("%w: pickup coordinates are required", ErrValidation)
	}
	pickup := types.Point{Lat: *ev.Latitude, Lng: *ev.Longitude}

	if _, err := d.deliveries.Ensure(ctx, &delivery.Delivery{
		ID:             ev.DeliveryID,
		OrderID:        ev.OrderID,
		TrackingNumber: ev.TrackingNumber,
		Status:         delivery.StatusProcessing,
		Address:        ev.Address,
		UpdatedAt:      d.now(),
	}); err != nil {
		return Candidate{}, fmt.Errorf("record delivery %s: %w", ev.DeliveryID, err)
	}

	cand, err := d.matcher.FindNearest(ctx, pickup)
	if err != nil {
		return Candidate{}, err
	}
	if _, err := d.assigner.Assign(ctx, cand.Driver.ID, ev.DeliveryID); err != nil {
		return Candidate{}, err
	}
	d.log.Info("delivery dispatched",
		"delivery_id", ev.DeliveryID, "driver_id", cand.Driver.ID, "distance_km", cand.DistanceKm)

	if d.events != nil {
		msg := DeliveryAssigned{
			DeliveryID: ev.DeliveryID,
			OrderID:    ev.OrderID,
			DriverID:   cand.Driver.ID,
			DistanceKm: cand.DistanceKm,
			AssignedAt: d.now(),
		}
		if err := d.events.PublishJSON(ctx, RoutingDeliveryAssigned, msg); err != nil {
			d.log.Warn("publish delivery.assigned failed", "delivery_id", ev.DeliveryID, "err", err)
		}
	}
	return cand, nil
}
