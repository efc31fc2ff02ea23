// README: Assignment coordinator; the only writer of driver/delivery links. All work runs under the driver lock.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"courier/internal/modules/broadcast"
	"courier/internal/modules/delivery"
	"courier/internal/modules/driver"
	"courier/internal/types"
)

var (
	ErrDriverBusy     = driver.ErrDriverBusy
	ErrDeliveryClosed = errors.New("delivery is already closed")
	ErrDeliveryTaken  = errors.New("delivery already has a driver")
	ErrValidation     = errors.New("invalid assignment request")
)

const (
	minRating = 0.0
	maxRating = 5.0
)

// Notifier is the slice of the broadcast hub the coordinator publishes to.
type Notifier interface {
	PublishStatus(deliveryID types.ID, msg broadcast.StatusBroadcast) int
	NotifyAssignment(driverID types.ID, msg broadcast.AssignmentNotification) int
}

type Coordinator struct {
	registry   *driver.Registry
	deliveries delivery.Store
	hub        Notifier
	policy     UnassignPolicy
	claims     *driver.KeyedMutex
	log        *slog.Logger
	now        func() time.Time
}

func NewCoordinator(registry *driver.Registry, deliveries delivery.Store, hub Notifier, policy UnassignPolicy, log *slog.Logger) *Coordinator {
	if policy == "" {
		policy = PolicyRevert
	}
	return &Coordinator{
		registry:   registry,
		deliveries: deliveries,
		hub:        hub,
		policy:     policy,
		claims:     driver.NewKeyedMutex(),
		log:        log.With("component", "assignment_coordinator"),
		now:        time.Now,
	}
}

// Assign links the driver to the delivery and moves the delivery to IN_TRANSIT.
// Only PROCESSING deliveries can be claimed. Calls are serialized per driver and per delivery,
// so a driver holds at most one delivery and a delivery at most one driver.
func (c *Coordinator) Assign(ctx context.Context, driverID, deliveryID types.ID) (Outcome, error) {
	if driverID == "" || deliveryID == "" {
		return Outcome{}, fmt.Errorf("%w: driver and delivery ids are required", ErrValidation)
	}

	var del *delivery.Delivery
	d, err := c.registry.Mutate(ctx, driverID, func(d *driver.Driver) error {
		switch {
		case d.HasDelivery():
			return ErrDriverBusy
		case !d.IsActive:
			return driver.ErrDriverInactive
		case !d.IsVerified:
			return driver.ErrNotVerified
		}

		// Lock order is driver then delivery everywhere.
		release := c.claims.Lock(deliveryID)
		defer release()

		cur, err := c.deliveries.Get(ctx, deliveryID)
		if err != nil {
			return err
		}
		switch {
		case cur.Status.Terminal():
			return fmt.Errorf("%w: %s is %s", ErrDeliveryClosed, deliveryID, cur.Status)
		case cur.Status != delivery.StatusProcessing:
			return fmt.Errorf("%w: %s is %s", ErrDeliveryTaken, deliveryID, cur.Status)
		}
		name, phone := d.Profile.FullName, d.Profile.Phone
		cur.DriverName = &name
		cur.DriverPhone = &phone
		cur.Status = delivery.StatusInTransit
		cur.UpdatedAt = c.now()
		if err := c.deliveries.Update(ctx, cur); err != nil {
			return fmt.Errorf("update delivery %s: %w", deliveryID, err)
		}
		del = cur

		id := deliveryID
		d.CurrentDeliveryID = &id
		d.IsAvailable = false
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	c.log.Info("delivery assigned", "driver_id", driverID, "delivery_id", deliveryID)
	c.hub.NotifyAssignment(driverID, broadcast.AssignmentNotification{
		DeliveryID:   deliveryID,
		OrderDetails: orderDetails(del),
	})
	c.publishStatus(del, "Driver assigned")
	return Outcome{Driver: d, Delivery: del}, nil
}

// Unassign clears the driver's delivery and restores availability when the driver may be available.
// Under PolicyRevert an in-flight delivery goes back to PROCESSING.
func (c *Coordinator) Unassign(ctx context.Context, driverID types.ID) (Outcome, error) {
	var del *delivery.Delivery
	d, err := c.registry.Mutate(ctx, driverID, func(d *driver.Driver) error {
		if d.HasDelivery() && c.policy == PolicyRevert {
			cur, err := c.revert(ctx, *d.CurrentDeliveryID)
			if err != nil {
				return err
			}
			del = cur
		}
		d.CurrentDeliveryID = nil
		d.IsAvailable = d.CanBeAvailable()
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	c.log.Info("driver unassigned", "driver_id", driverID, "policy", string(c.policy))
	if del != nil {
		c.publishStatus(del, "Driver unassigned")
	}
	return Outcome{Driver: d, Delivery: del}, nil
}

// revert returns nil when the delivery is gone or not in flight, leaving it untouched.
func (c *Coordinator) revert(ctx context.Context, deliveryID types.ID) (*delivery.Delivery, error) {
	release := c.claims.Lock(deliveryID)
	defer release()

	cur, err := c.deliveries.Get(ctx, deliveryID)
	if errors.Is(err, delivery.ErrNotFound) {
		c.log.Warn("unassigned delivery no longer exists", "delivery_id", deliveryID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cur.Status != delivery.StatusInTransit && cur.Status != delivery.StatusOutForDelivery {
		return nil, nil
	}
	cur.Status = delivery.StatusProcessing
	cur.DriverName = nil
	cur.DriverPhone = nil
	cur.UpdatedAt = c.now()
	if err := c.deliveries.Update(ctx, cur); err != nil {
		return nil, fmt.Errorf("update delivery %s: %w", deliveryID, err)
	}
	return cur, nil
}

// CompleteDelivery marks the current delivery DELIVERED, frees the driver and counts one completion.
func (c *Coordinator) CompleteDelivery(ctx context.Context, driverID types.ID) (Outcome, error) {
	var del *delivery.Delivery
	d, err := c.registry.Mutate(ctx, driverID, func(d *driver.Driver) error {
		if d.HasDelivery() {
			cur, err := c.deliveries.Get(ctx, *d.CurrentDeliveryID)
			switch {
			case errors.Is(err, delivery.ErrNotFound):
				c.log.Warn("completed delivery no longer exists", "delivery_id", *d.CurrentDeliveryID)
			case err != nil:
				return err
			default:
				now := c.now()
				cur.Status = delivery.StatusDelivered
				cur.ActualDelivery = &now
				cur.UpdatedAt = now
				if err := c.deliveries.Update(ctx, cur); err != nil {
					return fmt.Errorf("update delivery %s: %w", cur.ID, err)
				}
				del = cur
			}
		}
		d.CurrentDeliveryID = nil
		d.CompletedDeliveries++
		d.IsAvailable = d.CanBeAvailable()
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	c.log.Info("delivery completed", "driver_id", driverID, "completed", d.CompletedDeliveries)
	if del != nil {
		c.publishStatus(del, "Delivered")
	}
	return Outcome{Driver: d, Delivery: del}, nil
}

// UpdateRating folds one rating into the running average weighted by completed deliveries.
func (c *Coordinator) UpdateRating(ctx context.Context, driverID types.ID, rating float64) (*driver.Driver, error) {
	if math.IsNaN(rating) || rating < minRating || rating > maxRating {
		return nil, fmt.Errorf("%w: rating must be within [%.1f, %.1f]", ErrValidation, minRating, maxRating)
	}
	return c.registry.Mutate(ctx, driverID, func(d *driver.Driver) error {
		n := float64(d.CompletedDeliveries)
		d.Rating = (d.Rating*n + rating) / (n + 1)
		return nil
	})
}

func (c *Coordinator) publishStatus(d *delivery.Delivery, message string) {
	c.hub.PublishStatus(d.ID, broadcast.StatusBroadcast{
		DeliveryID: d.ID,
		Status:     string(d.Status),
		Message:    message,
		Timestamp:  c.now().UnixMilli(),
	})
}

func orderDetails(d *delivery.Delivery) string {
	if d.TrackingNumber != "" {
		return fmt.Sprintf("Order %s (%s) to %s", d.OrderID, d.TrackingNumber, d.Address)
	}
	return fmt.Sprintf("Order %s to %s", d.OrderID, d.Address)
}
