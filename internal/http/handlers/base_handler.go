// README: Base handler utilities (JSON helpers, error mapping, request parsing).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"courier/internal/modules/assignment"
	"courier/internal/modules/delivery"
	"courier/internal/modules/driver"
	"courier/internal/modules/location"
	"courier/internal/modules/matching"
	"courier/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeModuleError maps a module error to its status code. Unknown errors never leak their text.
func writeModuleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, driver.ErrNotFound),
		errors.Is(err, driver.ErrUserNotFound),
		errors.Is(err, delivery.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, driver.ErrValidation),
		errors.Is(err, location.ErrValidation),
		errors.Is(err, matching.ErrValidation),
		errors.Is(err, assignment.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, driver.ErrDuplicateRegistration),
		errors.Is(err, driver.ErrDriverBusy),
		errors.Is(err, driver.ErrNotVerified),
		errors.Is(err, driver.ErrDriverInactive),
		errors.Is(err, assignment.ErrDeliveryClosed),
		errors.Is(err, assignment.ErrDeliveryTaken):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, matching.ErrNoDriverAvailable):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads a UUID path parameter, writing 400 when it is malformed.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	id, ok := types.ParseID(c.Param(name))
	if !ok {
		writeError(c, http.StatusBadRequest, "malformed "+name)
		return "", false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func queryFloat(c *gin.Context, name string) (float64, bool) {
	v, err := strconv.ParseFloat(c.Query(name), 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func queryPage(c *gin.Context) (driver.Page, bool) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return driver.Page{}, false
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return driver.Page{}, false
	}
	return driver.Page{Limit: limit, Offset: offset}, true
}

func queryPoint(c *gin.Context) (types.Point, bool) {
	lat, ok := queryFloat(c, "lat")
	if !ok {
		return types.Point{}, false
	}
	lng, ok := queryFloat(c, "lng")
	if !ok {
		return types.Point{}, false
	}
	return types.Point{Lat: lat, Lng: lng}, true
}
