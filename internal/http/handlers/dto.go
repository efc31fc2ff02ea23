// README: Wire shapes for drivers, deliveries and assignment outcomes.
package handlers

import (
	"time"

	"courier/internal/modules/assignment"
	"courier/internal/modules/delivery"
	"courier/internal/modules/driver"
	"courier/internal/modules/matching"
	"courier/internal/types"
)

type driverResponse struct {
	ID                  types.ID   `json:"id"`
	UserID              types.ID   `json:"userId"`
	FullName            string     `json:"fullName"`
	Phone               string     `json:"phone"`
	Email               string     `json:"email"`
	VehicleType         string     `json:"vehicleType"`
	VehiclePlate        string     `json:"vehiclePlate"`
	VehicleModel        string     `json:"vehicleModel"`
	LicenseNumber       string     `json:"licenseNumber"`
	State               string     `json:"state"`
	IsAvailable         bool       `json:"isAvailable"`
	IsVerified          bool       `json:"isVerified"`
	IsActive            bool       `json:"isActive"`
	Rating              float64    `json:"rating"`
	CompletedDeliveries int        `json:"completedDeliveries"`
	CancelledDeliveries int        `json:"cancelledDeliveries"`
	CurrentLatitude     *float64   `json:"currentLatitude,omitempty"`
	CurrentLongitude    *float64   `json:"currentLongitude,omitempty"`
	CurrentSpeed        *float64   `json:"currentSpeed,omitempty"`
	CurrentHeading      *float64   `json:"currentHeading,omitempty"`
	LastLocationUpdate  *time.Time `json:"lastLocationUpdate,omitempty"`
	CurrentDeliveryID   *types.ID  `json:"currentDeliveryId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func toDriver(d *driver.Driver) driverResponse {
	out := driverResponse{
		ID:                  d.ID,
		UserID:              d.UserID,
		FullName:            d.Profile.FullName,
		Phone:               d.Profile.Phone,
		Email:               d.Profile.Email,
		VehicleType:         string(d.Vehicle.Type),
		VehiclePlate:        d.Vehicle.Plate,
		VehicleModel:        d.Vehicle.Model,
		LicenseNumber:       d.Vehicle.LicenseNumber,
		State:               string(d.State()),
		IsAvailable:         d.IsAvailable,
		IsVerified:          d.IsVerified,
		IsActive:            d.IsActive,
		Rating:              d.Rating,
		CompletedDeliveries: d.CompletedDeliveries,
		CancelledDeliveries: d.CancelledDeliveries,
		CurrentSpeed:        d.CurrentSpeed,
		CurrentHeading:      d.CurrentHeading,
		LastLocationUpdate:  d.LastLocationUpdate,
		CurrentDeliveryID:   d.CurrentDeliveryID,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.Position != nil {
		lat, lng := d.Position.Lat, d.Position.Lng
		out.CurrentLatitude = &lat
		out.CurrentLongitude = &lng
	}
	return out
}

func toDrivers(ds []*driver.Driver) []driverResponse {
	out := make([]driverResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, toDriver(d))
	}
	return out
}

type deliveryResponse struct {
	ID                types.ID        `json:"id"`
	OrderID           types.ID        `json:"orderId"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	Status            delivery.Status `json:"status"`
	Address           string          `json:"address"`
	DriverName        *string         `json:"driverName,omitempty"`
	DriverPhone       *string         `json:"driverPhone,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time      `json:"actualDelivery,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func toDelivery(d *delivery.Delivery) *deliveryResponse {
	if d == nil {
		return nil
	}
	return &deliveryResponse{
		ID:                d.ID,
		OrderID:           d.OrderID,
		TrackingNumber:    d.TrackingNumber,
		Status:            d.Status,
		Address:           d.Address,
		DriverName:        d.DriverName,
		DriverPhone:       d.DriverPhone,
		EstimatedDelivery: d.EstimatedDelivery,
		ActualDelivery:    d.ActualDelivery,
		UpdatedAt:         d.UpdatedAt,
	}
}

type outcomeResponse struct {
	Driver   driverResponse    `json:"driver"`
	Delivery *deliveryResponse `json:"delivery,omitempty"`
}

func toOutcome(o assignment.Outcome) outcomeResponse {
	return outcomeResponse{Driver: toDriver(o.Driver), Delivery: toDelivery(o.Delivery)}
}

type candidateResponse struct {
	Driver     driverResponse `json:"driver"`
	DistanceKm float64        `json:"distanceKm"`
}

func toCandidates(cs []matching.Candidate) []candidateResponse {
	out := make([]candidateResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateResponse{Driver: toDriver(c.Driver), DistanceKm: c.DistanceKm})
	}
	return out
}
