// README: Assignment handlers: assign, unassign, complete and rating.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/modules/assignment"
	"courier/internal/modules/driver"
	"courier/internal/types"
)

type AssignmentHandler struct {
	coordinator *assignment.Coordinator
	registry    *driver.Registry
}

func NewAssignmentHandler(coordinator *assignment.Coordinator, registry *driver.Registry) *AssignmentHandler {
	return &AssignmentHandler{coordinator: coordinator, registry: registry}
}

type assignReq struct {
	DeliveryID string `json:"deliveryId"`
}

type ratingReq struct {
	Rating *float64 `json:"rating"`
}

func (h *AssignmentHandler) Assign(c *gin.Context) {
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	deliveryID, ok := types.ParseID(req.DeliveryID)
	if !ok {
		writeError(c, http.StatusBadRequest, "malformed deliveryId")
		return
	}
	out, err := h.coordinator.Assign(c.Request.Context(), driverID, deliveryID)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOutcome(out))
}

func (h *AssignmentHandler) Unassign(c *gin.Context) {
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := h.coordinator.Unassign(c.Request.Context(), driverID)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOutcome(out))
}

func (h *AssignmentHandler) Complete(c *gin.Context) {
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.complete(c, driverID)
}

// CompleteMine lets the assigned driver close their own delivery.
func (h *AssignmentHandler) CompleteMine(c *gin.Context) {
	me, ok := self(c, h.registry)
	if !ok {
		return
	}
	h.complete(c, me.ID)
}

func (h *AssignmentHandler) complete(c *gin.Context, driverID types.ID) {
	out, err := h.coordinator.CompleteDelivery(c.Request.Context(), driverID)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toOutcome(out))
}

func (h *AssignmentHandler) Rate(c *gin.Context) {
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ratingReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Rating == nil {
		writeError(c, http.StatusBadRequest, "rating is required")
		return
	}
	d, err := h.coordinator.UpdateRating(c.Request.Context(), driverID, *req.Rating)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriver(d))
}
