// README: Location handlers for pings, history and delivery route replay.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/modules/driver"
	"courier/internal/modules/location"
	"courier/internal/types"
)

type LocationHandler struct {
	tracker  *location.Tracker
	registry *driver.Registry
}

func NewLocationHandler(tracker *location.Tracker, registry *driver.Registry) *LocationHandler {
	return &LocationHandler{tracker: tracker, registry: registry}
}

// Update ingests one ping for the caller's own driver profile.
func (h *LocationHandler) Update(c *gin.Context) {
	var ping location.Ping
	if err := c.ShouldBindJSON(&ping); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	me, ok := self(c, h.registry)
	if !ok {
		return
	}
	d, err := h.tracker.Ingest(c.Request.Context(), me.ID, ping)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriver(d))
}

func (h *LocationHandler) MyHistory(c *gin.Context) {
	me, ok := self(c, h.registry)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	h.writeHistory(c, me.ID, limit)
}

func (h *LocationHandler) DriverHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	h.writeHistory(c, id, limit)
}

func (h *LocationHandler) writeHistory(c *gin.Context, id types.ID, limit int) {
	recs, err := h.tracker.History(c.Request.Context(), id, limit)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"locations": recs})
}

func (h *LocationHandler) DeliveryPath(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	recs, err := h.tracker.DeliveryPath(c.Request.Context(), id)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"path": recs})
}
