// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/http/handlers"
	"courier/internal/http/middleware"
)

func NewRouter(deps ServerDeps) http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	drivers := handlers.NewDriverHandler(deps.Registry, deps.Tracker)
	locations := handlers.NewLocationHandler(deps.Tracker, deps.Registry)
	matchingH := handlers.NewMatchingHandler(deps.Matcher, deps.DefaultRadiusKm)
	assignments := handlers.NewAssignmentHandler(deps.Coordinator, deps.Registry)
	broadcasts := handlers.NewBroadcastHandler(deps.Hub)
	streams := handlers.NewStreamHandler(deps.Hub, deps.Tracker, deps.Registry, deps.Log)

	r.GET("/healthz", broadcasts.Health)

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	me := api.Group("/driver/me")
	me.POST("", drivers.Register)
	me.GET("", drivers.Me)
	me.PATCH("/profile", drivers.UpdateProfile)
	me.POST("/online", drivers.GoOnline)
	me.POST("/offline", drivers.GoOffline)
	me.POST("/toggle", drivers.Toggle)
	me.PUT("/location", locations.Update)
	me.GET("/locations", locations.MyHistory)
	me.POST("/complete", assignments.CompleteMine)

	api.GET("/deliveries/:id/path", locations.DeliveryPath)

	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.GET("/drivers", drivers.List)
	admin.GET("/drivers/available", drivers.ListAvailable)
	admin.GET("/drivers/unverified", drivers.ListUnverified)
	admin.GET("/drivers/search", drivers.Search)
	admin.GET("/drivers/statistics", drivers.Statistics)
	admin.GET("/drivers/nearest", matchingH.Nearest)
	admin.GET("/drivers/within", matchingH.Within)
	admin.GET("/users/:userId/driver", drivers.GetByUser)
	admin.GET("/drivers/:id", drivers.Get)
	admin.GET("/drivers/:id/locations", locations.DriverHistory)
	admin.POST("/drivers/:id/verify", drivers.Verify)
	admin.POST("/drivers/:id/suspend", drivers.Suspend)
	admin.POST("/drivers/:id/reactivate", drivers.Reactivate)
	admin.POST("/drivers/:id/assign", assignments.Assign)
	admin.POST("/drivers/:id/unassign", assignments.Unassign)
	admin.POST("/drivers/:id/complete", assignments.Complete)
	admin.POST("/drivers/:id/rating", assignments.Rate)
	admin.POST("/deliveries/:id/status", broadcasts.RelayStatus)

	ws := r.Group("/ws", middleware.Auth(deps.Verifier))
	ws.GET("/subscribe", streams.Subscribe)
	ws.GET("/driver", streams.DriverStream)

	return r
}
