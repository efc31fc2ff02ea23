// README: Location tracker ingests pings into the driver snapshot and the history ledger, then fans out.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier/internal/modules/broadcast"
	"courier/internal/modules/delivery"
	"courier/internal/modules/driver"
	"courier/internal/types"
)

var ErrValidation = errors.New("invalid location update")

const DefaultHistoryLimit = 50

// Publisher is the slice of the broadcast hub the tracker needs.
type Publisher interface {
	PublishLocation(deliveryID types.ID, msg broadcast.LocationBroadcast) int
}

type Options struct {
	HistoryDefaultLimit int
	// Geo is optional; nil disables the Redis mirror.
	Geo GeoIndex
}

type Tracker struct {
	registry   *driver.Registry
	ledger     Ledger
	deliveries delivery.Store
	hub        Publisher
	geo        GeoIndex
	limit      int
	log        *slog.Logger
	now        func() time.Time
}

func NewTracker(registry *driver.Registry, ledger Ledger, deliveries delivery.Store, hub Publisher, opts Options, log *slog.Logger) *Tracker {
	limit := opts.HistoryDefaultLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Tracker{
		registry:   registry,
		ledger:     ledger,
		deliveries: deliveries,
		hub:        hub,
		geo:        opts.Geo,
		limit:      limit,
		log:        log.With("component", "location_tracker"),
		now:        time.Now,
	}
}

// Ingest overwrites the driver's live snapshot and appends one history row in the same
// per-driver critical section. The row is appended before the snapshot is written, so the
// snapshot never holds a position the ledger lacks; a failed snapshot write leaves one extra
// history row and returns the error. Broadcast and GEO mirror failures never fail the call.
func (t *Tracker) Ingest(ctx context.Context, driverID types.ID, p Ping) (*driver.Driver, error) {
	pt, err := p.validate()
	if err != nil {
		return nil, err
	}
	override, err := t.resolveOverride(ctx, p.DeliveryID)
	if err != nil {
		return nil, err
	}

	now := t.now()
	d, err := t.registry.Mutate(ctx, driverID, func(d *driver.Driver) error {
		d.Position = &pt
		d.CurrentSpeed = p.Speed
		d.CurrentHeading = p.Heading
		d.LastLocationUpdate = &now

		// An explicit delivery id wins over the current one, even when it resolves to nothing.
		tag := d.CurrentDeliveryID
		if p.DeliveryID != nil {
			tag = override
		}
		rec := &Record{
			DriverID:        d.ID,
			Latitude:        pt.Lat,
			Longitude:       pt.Lng,
			Speed:           p.Speed,
			Heading:         p.Heading,
			Accuracy:        p.Accuracy,
			Altitude:        p.Altitude,
			DeliveryID:      tag,
			ClientTimestamp: p.ClientTimestamp,
			RecordedAt:      now,
		}
		if err := t.ledger.Append(ctx, rec); err != nil {
			return fmt.Errorf("append location: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if t.geo != nil {
		if err := t.geo.Upsert(ctx, d.ID, pt); err != nil {
			t.log.Warn("geo index update failed", "driver_id", d.ID, "err", err)
		}
	}
	if d.CurrentDeliveryID != nil {
		t.hub.PublishLocation(*d.CurrentDeliveryID, broadcast.LocationBroadcast{
			DriverID:   d.ID,
			Latitude:   pt.Lat,
			Longitude:  pt.Lng,
			Speed:      d.CurrentSpeed,
			Heading:    d.CurrentHeading,
			DriverName: d.Profile.FullName,
		})
	}
	return d, nil
}

// resolveOverride keeps an explicit delivery id only when that delivery exists; an unknown
// id resolves to nil and the row is stored untagged.
func (t *Tracker) resolveOverride(ctx context.Context, id *types.ID) (*types.ID, error) {
	if id == nil || t.deliveries == nil {
		return nil, nil
	}
	if _, err := t.deliveries.Get(ctx, *id); err != nil {
		if errors.Is(err, delivery.ErrNotFound) {
			t.log.Debug("ignoring unknown delivery override", "delivery_id", *id)
			return nil, nil
		}
		return nil, err
	}
	v := *id
	return &v, nil
}

// History returns the most recent records for a driver, newest first. limit<=0 uses the default.
func (t *Tracker) History(ctx context.Context, driverID types.ID, limit int) ([]Record, error) {
	if _, err := t.registry.GetByID(ctx, driverID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = t.limit
	}
	return t.ledger.History(ctx, driverID, limit)
}

// DeliveryPath returns the chronological route recorded for a delivery.
func (t *Tracker) DeliveryPath(ctx context.Context, deliveryID types.ID) ([]Record, error) {
	return t.ledger.DeliveryPath(ctx, deliveryID)
}

// Sync brings the GEO mirror in line with one driver: available drivers with a position are
// upserted, everyone else is removed. Callers run it after any availability transition.
func (t *Tracker) Sync(ctx context.Context, d *driver.Driver) {
	if t.geo == nil {
		return
	}
	if d.IsAvailable && d.Position != nil {
		if err := t.geo.Upsert(ctx, d.ID, *d.Position); err != nil {
			t.log.Warn("geo index update failed", "driver_id", d.ID, "err", err)
		}
		return
	}
	t.Forget(ctx, d.ID)
}

// Reindex upserts every available driver with a known position. It rebuilds the mirror after
// a Redis restart or flush and returns the number of drivers written.
func (t *Tracker) Reindex(ctx context.Context) (int, error) {
	if t.geo == nil {
		return 0, nil
	}
	drivers, err := t.registry.ListAvailable(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range drivers {
		if d.Position == nil {
			continue
		}
		if err := t.geo.Upsert(ctx, d.ID, *d.Position); err != nil {
			return n, fmt.Errorf("reindex %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}

// Forget drops a driver from the GEO mirror, e.g. when it goes offline.
func (t *Tracker) Forget(ctx context.Context, driverID types.ID) {
	if t.geo == nil {
		return
	}
	if err := t.geo.Remove(ctx, driverID); err != nil {
		t.log.Warn("geo index remove failed", "driver_id", driverID, "err", err)
	}
}
