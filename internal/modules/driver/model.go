// README: Driver aggregate, vehicle info and derived lifecycle state.
package driver

import (
	"time"

	"courier/internal/types"
)

type VehicleType string

const (
	VehicleCar        VehicleType = "CAR"
	VehicleMotorcycle VehicleType = "MOTORCYCLE"
	VehicleBicycle    VehicleType = "BICYCLE"
	VehicleVan        VehicleType = "VAN"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleCar, VehicleMotorcycle, VehicleBicycle, VehicleVan:
		return true
	}
	return false
}

// State is derived from the status flags and the current assignment; it is never stored.
type State string

const (
	StateUnverified      State = "UNVERIFIED"
	StateVerifiedOffline State = "VERIFIED_OFFLINE"
	StateOnlineFree      State = "VERIFIED_ONLINE_FREE"
	StateOnlineAssigned  State = "ONLINE_ASSIGNED"
	StateSuspended       State = "SUSPENDED"
)

type VehicleInfo struct {
	Type          VehicleType
	Plate         string
	Model         string
	LicenseNumber string
}

// ProfileUpdate carries optional vehicle fields; nil means unchanged.
type ProfileUpdate struct {
	Type          *VehicleType
	Plate         *string
	Model         *string
	LicenseNumber *string
}

// UserProfile is the slice of the user account the registry caches for search and denormalization.
type UserProfile struct {
	FullName string
	Phone    string
	Email    string
}

type Driver struct {
	ID      types.ID
	UserID  types.ID
	Profile UserProfile
	Vehicle VehicleInfo

	IsAvailable bool
	IsVerified  bool
	IsActive    bool

	Rating              float64
	CompletedDeliveries int
	CancelledDeliveries int

	// Live snapshot. Position is nil until the first ping.
	Position           *types.Point
	CurrentSpeed       *float64
	CurrentHeading     *float64
	LastLocationUpdate *time.Time

	CurrentDeliveryID *types.ID

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Driver) State() State {
	switch {
	case !d.IsActive:
		return StateSuspended
	case d.CurrentDeliveryID != nil:
		return StateOnlineAssigned
	case !d.IsVerified:
		return StateUnverified
	case d.IsAvailable:
		return StateOnlineFree
	default:
		return StateVerifiedOffline
	}
}

// Eligible reports whether the driver may be handed a new delivery.
func (d *Driver) Eligible() bool {
	return d.IsAvailable && d.IsActive && d.IsVerified && d.CurrentDeliveryID == nil
}

func (d *Driver) HasDelivery() bool {
	return d.CurrentDeliveryID != nil
}

// CanBeAvailable is the precondition for isAvailable=true.
func (d *Driver) CanBeAvailable() bool {
	return d.IsActive && d.IsVerified && d.CurrentDeliveryID == nil
}

// Clone returns a deep copy so callers never share pointer fields with the store.
func (d *Driver) Clone() *Driver {
	c := *d
	if d.Position != nil {
		p := *d.Position
		c.Position = &p
	}
	if d.CurrentSpeed != nil {
		v := *d.CurrentSpeed
		c.CurrentSpeed = &v
	}
	if d.CurrentHeading != nil {
		v := *d.CurrentHeading
		c.CurrentHeading = &v
	}
	if d.LastLocationUpdate != nil {
		v := *d.LastLocationUpdate
		c.LastLocationUpdate = &v
	}
	if d.CurrentDeliveryID != nil {
		v := *d.CurrentDeliveryID
		c.CurrentDeliveryID = &v
	}
	return &c
}

type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type Statistics struct {
	TotalDrivers        int `json:"totalDrivers"`
	AvailableDrivers    int `json:"availableDrivers"`
	PendingVerification int `json:"pendingVerification"`
	ActiveDeliveries    int `json:"activeDeliveries"`
}
