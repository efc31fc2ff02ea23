// README: Status relay for the delivery service and the health probe.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/modules/broadcast"
	"courier/internal/modules/delivery"
)

type BroadcastHandler struct {
	hub *broadcast.Hub
}

func NewBroadcastHandler(hub *broadcast.Hub) *BroadcastHandler {
	return &BroadcastHandler{hub: hub}
}

type statusReq struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RelayStatus pushes a status change owned by the delivery service to live subscribers.
func (h *BroadcastHandler) RelayStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !delivery.Status(req.Status).Valid() {
		writeError(c, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}
	n := h.hub.PublishStatus(id, broadcast.StatusBroadcast{Status: req.Status, Message: req.Message})
	writeJSON(c, http.StatusAccepted, map[string]any{"receivers": n})
}

func (h *BroadcastHandler) Health(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok", "hub": h.hub.Stats()})
}
