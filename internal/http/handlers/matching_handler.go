// README: Proximity query handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/modules/matching"
)

type MatchingHandler struct {
	matcher       *matching.Matcher
	defaultRadius float64
}

func NewMatchingHandler(matcher *matching.Matcher, defaultRadiusKm float64) *MatchingHandler {
	return &MatchingHandler{matcher: matcher, defaultRadius: defaultRadiusKm}
}

// Nearest answers GET ?lat=&lng=.
func (h *MatchingHandler) Nearest(c *gin.Context) {
	p, ok := queryPoint(c)
	if !ok {
		return
	}
	cand, err := h.matcher.FindNearest(c.Request.Context(), p)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, candidateResponse{Driver: toDriver(cand.Driver), DistanceKm: cand.DistanceKm})
}

// Within answers GET ?lat=&lng=&radiusKm=; radiusKm falls back to the configured default.
func (h *MatchingHandler) Within(c *gin.Context) {
	p, ok := queryPoint(c)
	if !ok {
		return
	}
	radius := h.defaultRadius
	if c.Query("radiusKm") != "" {
		if radius, ok = queryFloat(c, "radiusKm"); !ok {
			return
		}
	}
	cands, err := h.matcher.FindWithinRadius(c.Request.Context(), p, radius)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": toCandidates(cands), "radiusKm": radius})
}
