// README: Assignment outcomes and the unassign reconciliation policy.
package assignment

import (
	"fmt"

	"courier/internal/modules/delivery"
	"courier/internal/modules/driver"
)

// UnassignPolicy decides what happens to the delivery when its driver is unassigned.
type UnassignPolicy string

const (
	// PolicyRevert moves an in-flight delivery back to PROCESSING and clears the driver snapshot.
	PolicyRevert UnassignPolicy = "revert"
	// PolicyKeep leaves the delivery untouched.
	PolicyKeep UnassignPolicy = "keep"
)

func ParsePolicy(v string) (UnassignPolicy, error) {
	switch p := UnassignPolicy(v); p {
	case PolicyRevert, PolicyKeep:
		return p, nil
	case "":
		return PolicyRevert, nil
	default:
		return "", fmt.Errorf("unknown unassign policy %q", v)
	}
}

// Outcome is the driver after the operation and, when one was involved, the delivery.
type Outcome struct {
	Driver   *driver.Driver     `json:"driver"`
	Delivery *delivery.Delivery `json:"delivery,omitempty"`
}
