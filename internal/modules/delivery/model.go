// README: Delivery entity as seen by dispatch; creation and cancellation belong to the order service.
package delivery

import (
	"time"

	"courier/internal/types"
)

type Status string

const (
	StatusProcessing     Status = "PROCESSING"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusFailed         Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusInTransit, StatusOutForDelivery, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

type Delivery struct {
	ID                types.ID
	OrderID           types.ID
	TrackingNumber    string
	Status            Status
	Address           string
	DriverName        *string
	DriverPhone       *string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	UpdatedAt         time.Time
}

func (d *Delivery) Clone() *Delivery {
	c := *d
	if d.DriverName != nil {
		v := *d.DriverName
		c.DriverName = &v
	}
	if d.DriverPhone != nil {
		v := *d.DriverPhone
		c.DriverPhone = &v
	}
	if d.EstimatedDelivery != nil {
		v := *d.EstimatedDelivery
		c.EstimatedDelivery = &v
	}
	if d.ActualDelivery != nil {
		v := *d.ActualDelivery
		c.ActualDelivery = &v
	}
	return &c
}
