// README: Driver registry owns driver profiles, status flags and the live snapshot.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier/internal/types"
)

var (
	ErrNotFound              = errors.New("driver not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrDuplicateRegistration = errors.New("user is already registered as a driver")
	ErrNotVerified           = errors.New("driver must be verified to go online")
	ErrDriverInactive        = errors.New("driver is suspended")
	ErrDriverBusy            = errors.New("driver already has an active delivery")
	ErrValidation            = errors.New("validation failed")
)

const initialRating = 5.0

// UserDirectory resolves account details owned by the auth/user collaborator.
type UserDirectory interface {
	Lookup(ctx context.Context, userID types.ID) (UserProfile, error)
}

type Registry struct {
	store Store
	users UserDirectory
	locks *KeyedMutex
	log   *slog.Logger
	now   func() time.Time
}

// NewRegistry builds a Registry. A nil UserDirectory skips account lookup and leaves profiles empty.
func NewRegistry(store Store, users UserDirectory, log *slog.Logger) *Registry {
	return &Registry{
		store: store,
		users: users,
		locks: NewKeyedMutex(),
		log:   log.With("component", "driver_registry"),
		now:   time.Now,
	}
}

// Mutate runs fn with exclusive access to one driver and persists the result.
// Every write to a driver goes through here; fn returning an error leaves the stored driver untouched.
func (r *Registry) Mutate(ctx context.Context, id types.ID, fn func(d *Driver) error) (*Driver, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	d, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.UpdatedAt = r.now()
	if err := r.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update driver %s: %w", id, err)
	}
	return d.Clone(), nil
}

func (r *Registry) Register(ctx context.Context, userID types.ID, vehicle VehicleInfo) (*Driver, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !vehicle.Type.Valid() {
		return nil, fmt.Errorf("%w: vehicle type %q", ErrValidation, vehicle.Type)
	}

	var profile UserProfile
	if r.users != nil {
		p, err := r.users.Lookup(ctx, userID)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	now := r.now()
	d := &Driver{
		ID:        types.NewID(),
		UserID:    userID,
		Profile:   profile,
		Vehicle:   vehicle,
		IsActive:  true,
		Rating:    initialRating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Create(ctx, d); err != nil {
		return nil, err
	}
	r.log.Info("driver registered", "driver_id", d.ID, "user_id", userID)
	return d.Clone(), nil
}

func (r *Registry) GetByID(ctx context.Context, id types.ID) (*Driver, error) {
	return r.store.Get(ctx, id)
}

func (r *Registry) GetByUserID(ctx context.Context, userID types.ID) (*Driver, error) {
	return r.store.GetByUserID(ctx, userID)
}

// UpdateProfile changes vehicle fields only.
func (r *Registry) UpdateProfile(ctx context.Context, id types.ID, upd ProfileUpdate) (*Driver, error) {
	if upd.Type != nil && !upd.Type.Valid() {
		return nil, fmt.Errorf("%w: vehicle type %q", ErrValidation, *upd.Type)
	}
	return r.Mutate(ctx, id, func(d *Driver) error {
		if upd.Type != nil {
			d.Vehicle.Type = *upd.Type
		}
		if upd.Plate != nil {
			d.Vehicle.Plate = *upd.Plate
		}
		if upd.Model != nil {
			d.Vehicle.Model = *upd.Model
		}
		if upd.LicenseNumber != nil {
			d.Vehicle.LicenseNumber = *upd.LicenseNumber
		}
		return nil
	})
}

func (r *Registry) Verify(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := r.Mutate(ctx, id, func(d *Driver) error {
		d.IsVerified = true
		return nil
	})
	if err == nil {
		r.log.Info("driver verified", "driver_id", id)
	}
	return d, err
}

// Suspend forces the driver offline. An in-flight delivery stays assigned.
func (r *Registry) Suspend(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := r.Mutate(ctx, id, func(d *Driver) error {
		d.IsActive = false
		d.IsAvailable = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.HasDelivery() {
		r.log.Warn("driver suspended with delivery in flight", "driver_id", id, "delivery_id", *d.CurrentDeliveryID)
	} else {
		r.log.Info("driver suspended", "driver_id", id)
	}
	return d, nil
}

// Reactivate restores isActive only; the driver must go online again.
func (r *Registry) Reactivate(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := r.Mutate(ctx, id, func(d *Driver) error {
		d.IsActive = true
		return nil
	})
	if err == nil {
		r.log.Info("driver reactivated", "driver_id", id)
	}
	return d, err
}

func (r *Registry) GoOnline(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := r.Mutate(ctx, id, func(d *Driver) error {
		return goOnline(d)
	})
	if err == nil {
		r.log.Info("driver online", "driver_id", id)
	}
	return d, err
}

func (r *Registry) GoOffline(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := r.Mutate(ctx, id, func(d *Driver) error {
		d.IsAvailable = false
		return nil
	})
	if err == nil {
		r.log.Info("driver offline", "driver_id", id)
	}
	return d, err
}

// ToggleAvailability flips isAvailable. Turning on applies the same checks as GoOnline.
func (r *Registry) ToggleAvailability(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := r.Mutate(ctx, id, func(d *Driver) error {
		if d.IsAvailable {
			d.IsAvailable = false
			return nil
		}
		return goOnline(d)
	})
	if err == nil {
		r.log.Info("driver availability toggled", "driver_id", id, "available", d.IsAvailable)
	}
	return d, err
}

func goOnline(d *Driver) error {
	switch {
	case !d.IsVerified:
		return ErrNotVerified
	case !d.IsActive:
		return ErrDriverInactive
	case d.HasDelivery():
		return ErrDriverBusy
	}
	d.IsAvailable = true
	return nil
}

func (r *Registry) ListAll(ctx context.Context, page Page) ([]*Driver, error) {
	return r.store.ListAll(ctx, page)
}

func (r *Registry) ListAvailable(ctx context.Context) ([]*Driver, error) {
	return r.store.ListEligible(ctx)
}

func (r *Registry) ListAvailableInArea(ctx context.Context, area Area) ([]*Driver, error) {
	return r.store.ListEligibleInArea(ctx, area)
}

func (r *Registry) ListUnverified(ctx context.Context, page Page) ([]*Driver, error) {
	return r.store.ListUnverified(ctx, page)
}

func (r *Registry) Search(ctx context.Context, query string, page Page) ([]*Driver, error) {
	return r.store.Search(ctx, query, page)
}

func (r *Registry) Statistics(ctx context.Context) (Statistics, error) {
	return r.store.Statistics(ctx)
}
