package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"sterilization-gateway/internal/config"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/services"
)

// NewRouter wires the gateway routes. store may be nil.
func NewRouter(svc *services.Service, store Store, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(svc, store, logger)
	base := "/" + strings.Trim(cfg.API.BasePath, "/")
	public := r.Group(base)
	{
		public.GET("/health", h.Health)
		public.POST("/auth/login", h.Login)
	}

	api := r.Group(base, AuthMiddleware(svc, logger))
	{
		// Materials
		api.GET("/materials", h.ListMaterials)
		api.POST("/materials", h.CreateMaterial)
		api.GET("/materials/:id", h.GetMaterial)
		api.PUT("/materials/:id", h.UpdateMaterial)
		api.DELETE("/materials/:id", h.DeleteMaterial)

		mt := h.materialTarget()
		api.GET("/materials/:id/history", h.History(mt))
		api.GET("/materials/:id/history/export", h.ExportHistory(mt))
		api.GET("/materials/:id/reconcile", h.Reconcile(mt))
		api.POST("/materials/:id/reconcile/apply", h.ApplyReconcile(mt))

		// Batches
		api.GET("/batches", h.ListBatches)
		api.GET("/batches/:id", h.GetBatch)

		bt := h.batchTarget()
		api.GET("/batches/:id/history", h.History(bt))
		api.GET("/batches/:id/history/export", h.ExportHistory(bt))
		api.GET("/batches/:id/reconcile", h.Reconcile(bt))
		api.POST("/batches/:id/reconcile/apply", h.ApplyReconcile(bt))

		api.GET("/cycles", h.ListCycles)

		// Alerts
		api.GET("/alerts", h.ListAlerts)
		api.GET("/alerts/map", h.AlertMap)
		api.PATCH("/alerts/:id/ack", h.AckAlert)
		api.PATCH("/alerts/:id/resolve", h.ResolveAlert)

		api.GET("/metrics/overview", h.MetricsOverview)
		api.GET("/search/resolve", h.Resolve)
		api.GET("/audit", h.ListAudit)

		// Contact Points
		api.POST("/contact-points", h.CreateContactPoint)
		api.GET("/contact-points", h.ListContactPoints)
		api.GET("/contact-points/:id", h.GetContactPoint)
		api.PUT("/contact-points/:id", h.UpdateContactPoint)
		api.DELETE("/contact-points/:id", h.DeleteContactPoint)

		// Policies
		api.POST("/policies", h.CreatePolicy)
		api.GET("/policies", h.ListPolicies)
		api.GET("/policies/:id", h.GetPolicy)
		api.PUT("/policies/:id", h.UpdatePolicy)
		api.DELETE("/policies/:id", h.DeletePolicy)

		// Notifications
		api.GET("/notifications", h.ListNotifications)

		api.GET("/ws", h.WebSocket)
	}
	return r
}
