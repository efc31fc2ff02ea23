// README: Position pings and the immutable history records they produce.
package location

import (
	"fmt"
	"math"
	"time"

	"courier/internal/types"
)

// Ping is one client position report. Latitude and Longitude are required.
type Ping struct {
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	Speed           *float64   `json:"speed,omitempty"`
	Heading         *float64   `json:"heading,omitempty"`
	Accuracy        *float64   `json:"accuracy,omitempty"`
	Altitude        *float64   `json:"altitude,omitempty"`
	DeliveryID      *types.ID  `json:"deliveryId,omitempty"`
	ClientTimestamp *time.Time `json:"clientTimestamp,omitempty"`
}

func (p Ping) validate() (types.Point, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return types.Point{}, fmt.Errorf("%w: latitude and longitude are required", ErrValidation)
	}
	pt := types.Point{Lat: *p.Latitude, Lng: *p.Longitude}
	if !pt.Valid() {
		return types.Point{}, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if p.Speed != nil && (!finite(*p.Speed) || *p.Speed < 0) {
		return types.Point{}, fmt.Errorf("%w: speed must be a non-negative number", ErrValidation)
	}
	if p.Heading != nil && (!finite(*p.Heading) || *p.Heading < 0 || *p.Heading > 360) {
		return types.Point{}, fmt.Errorf("%w: heading must be within [0, 360]", ErrValidation)
	}
	if p.Accuracy != nil && (!finite(*p.Accuracy) || *p.Accuracy < 0) {
		return types.Point{}, fmt.Errorf("%w: accuracy must be a non-negative number", ErrValidation)
	}
	if p.Altitude != nil && !finite(*p.Altitude) {
		return types.Point{}, fmt.Errorf("%w: altitude must be a number", ErrValidation)
	}
	if p.DeliveryID != nil {
		if _, ok := types.ParseID(string(*p.DeliveryID)); !ok {
			return types.Point{}, fmt.Errorf("%w: malformed delivery id", ErrValidation)
		}
	}
	return pt, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Record is one append-only history row. RecordedAt is assigned by the server.
type Record struct {
	ID              int64      `json:"id"`
	DriverID        types.ID   `json:"driverId"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Speed           *float64   `json:"speed,omitempty"`
	Heading         *float64   `json:"heading,omitempty"`
	Accuracy        *float64   `json:"accuracy,omitempty"`
	Altitude        *float64   `json:"altitude,omitempty"`
	DeliveryID      *types.ID  `json:"deliveryId,omitempty"`
	ClientTimestamp *time.Time `json:"clientTimestamp,omitempty"`
	RecordedAt      time.Time  `json:"recordedAt"`
}
