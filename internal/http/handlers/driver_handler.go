// README: Driver handlers for self-service lifecycle and admin management.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/http/middleware"
	"courier/internal/modules/driver"
	"courier/internal/modules/location"
	"courier/internal/types"
)

type DriverHandler struct {
	registry *driver.Registry
	tracker  *location.Tracker
}

func NewDriverHandler(registry *driver.Registry, tracker *location.Tracker) *DriverHandler {
	return &DriverHandler{registry: registry, tracker: tracker}
}

type registerReq struct {
	VehicleType   string `json:"vehicleType"`
	VehiclePlate  string `json:"vehiclePlate"`
	VehicleModel  string `json:"vehicleModel"`
	LicenseNumber string `json:"licenseNumber"`
}

type profileReq struct {
	VehicleType   *string `json:"vehicleType"`
	VehiclePlate  *string `json:"vehiclePlate"`
	VehicleModel  *string `json:"vehicleModel"`
	LicenseNumber *string `json:"licenseNumber"`
}

// self resolves the driver profile owned by the caller.
func self(c *gin.Context, registry *driver.Registry) (*driver.Driver, bool) {
	d, err := registry.GetByUserID(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeModuleError(c, err)
		return nil, false
	}
	return d, true
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.registry.Register(c.Request.Context(), types.ID(middleware.CallerUID(c)), driver.VehicleInfo{
		Type:          driver.VehicleType(req.VehicleType),
		Plate:         req.VehiclePlate,
		Model:         req.VehicleModel,
		LicenseNumber: req.LicenseNumber,
	})
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toDriver(d))
}

func (h *DriverHandler) Me(c *gin.Context) {
	d, ok := self(c, h.registry)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, toDriver(d))
}

func (h *DriverHandler) UpdateProfile(c *gin.Context) {
	var req profileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	me, ok := self(c, h.registry)
	if !ok {
		return
	}
	upd := driver.ProfileUpdate{
		Plate:         req.VehiclePlate,
		Model:         req.VehicleModel,
		LicenseNumber: req.LicenseNumber,
	}
	if req.VehicleType != nil {
		vt := driver.VehicleType(*req.VehicleType)
		upd.Type = &vt
	}
	d, err := h.registry.UpdateProfile(c.Request.Context(), me.ID, upd)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriver(d))
}

func (h *DriverHandler) GoOnline(c *gin.Context) {
	h.selfTransition(c, h.registry.GoOnline)
}

func (h *DriverHandler) GoOffline(c *gin.Context) {
	h.selfTransition(c, h.registry.GoOffline)
}

func (h *DriverHandler) Toggle(c *gin.Context) {
	h.selfTransition(c, h.registry.ToggleAvailability)
}

type transitionFunc func(context.Context, types.ID) (*driver.Driver, error)

func (h *DriverHandler) selfTransition(c *gin.Context, fn transitionFunc) {
	me, ok := self(c, h.registry)
	if !ok {
		return
	}
	h.transition(c, me.ID, fn)
}

// transition applies fn and keeps the geo mirror in step with the resulting availability.
func (h *DriverHandler) transition(c *gin.Context, id types.ID, fn transitionFunc) {
	d, err := fn(c.Request.Context(), id)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	h.tracker.Sync(c.Request.Context(), d)
	writeJSON(c, http.StatusOK, toDriver(d))
}

// Admin surface.

func (h *DriverHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.registry.GetByID(c.Request.Context(), id)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriver(d))
}

func (h *DriverHandler) GetByUser(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		writeError(c, http.StatusBadRequest, "missing user id")
		return
	}
	d, err := h.registry.GetByUserID(c.Request.Context(), types.ID(userID))
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriver(d))
}

func (h *DriverHandler) List(c *gin.Context) {
	page, ok := queryPage(c)
	if !ok {
		return
	}
	ds, err := h.registry.ListAll(c.Request.Context(), page)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": toDrivers(ds)})
}

func (h *DriverHandler) ListAvailable(c *gin.Context) {
	ds, err := h.registry.ListAvailable(c.Request.Context())
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": toDrivers(ds)})
}

func (h *DriverHandler) ListUnverified(c *gin.Context) {
	page, ok := queryPage(c)
	if !ok {
		return
	}
	ds, err := h.registry.ListUnverified(c.Request.Context(), page)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": toDrivers(ds)})
}

func (h *DriverHandler) Search(c *gin.Context) {
	page, ok := queryPage(c)
	if !ok {
		return
	}
	ds, err := h.registry.Search(c.Request.Context(), c.Query("q"), page)
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": toDrivers(ds)})
}

func (h *DriverHandler) Statistics(c *gin.Context) {
	st, err := h.registry.Statistics(c.Request.Context())
	if err != nil {
		writeModuleError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (h *DriverHandler) Verify(c *gin.Context) {
	h.adminTransition(c, h.registry.Verify)
}

func (h *DriverHandler) Suspend(c *gin.Context) {
	h.adminTransition(c, h.registry.Suspend)
}

func (h *DriverHandler) Reactivate(c *gin.Context) {
	h.adminTransition(c, h.registry.Reactivate)
}

func (h *DriverHandler) adminTransition(c *gin.Context, fn transitionFunc) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.transition(c, id, fn)
}
