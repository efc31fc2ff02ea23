// README: Topics and wire messages pushed to live subscribers.
package broadcast

import (
	"fmt"
	"strings"

	"courier/internal/types"
)

const (
	TypeLocation   = "location"
	TypeStatus     = "status"
	TypeAssignment = "assignment"
)

func LocationTopic(deliveryID types.ID) string {
	return fmt.Sprintf("delivery:%s:location", deliveryID)
}

func StatusTopic(deliveryID types.ID) string {
	return fmt.Sprintf("delivery:%s:status", deliveryID)
}

func AssignmentTopic(driverID types.ID) string {
	return fmt.Sprintf("driver:%s:assignment", driverID)
}

// ParseTopic splits a topic into its owner kind ("delivery" or "driver"), id and channel.
func ParseTopic(topic string) (kind string, id types.ID, channel string, ok bool) {
	parts := strings.Split(topic, ":")
	if len(parts) != 3 || parts[1] == "" {
		return "", "", "", false
	}
	switch {
	case parts[0] == "delivery" && (parts[2] == TypeLocation || parts[2] == TypeStatus):
	case parts[0] == "driver" && parts[2] == TypeAssignment:
	default:
		return "", "", "", false
	}
	return parts[0], types.ID(parts[1]), parts[2], true
}

type LocationBroadcast struct {
	DriverID   types.ID `json:"driverId"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Speed      *float64 `json:"speed,omitempty"`
	Heading    *float64 `json:"heading,omitempty"`
	DriverName string   `json:"driverName"`
}

type StatusBroadcast struct {
	DeliveryID types.ID `json:"deliveryId"`
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

type AssignmentNotification struct {
	DeliveryID   types.ID `json:"deliveryId"`
	OrderDetails string   `json:"orderDetails"`
}

// Envelope is what a subscriber receives: the topic it matched plus the typed payload.
type Envelope struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
