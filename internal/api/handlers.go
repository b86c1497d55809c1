package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sterilization-gateway/internal/backend"
	"sterilization-gateway/internal/export"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
	"sterilization-gateway/internal/services"
)

type Handler struct {
	svc    *services.Service
	store  Store
	logger *logging.Logger
}

// NewHandler builds the handlers. store may be nil when no database is configured.
func NewHandler(svc *services.Service, store Store, logger *logging.Logger) *Handler {
	return &Handler{svc: svc, store: store, logger: logger}
}

// backendError answers with the backend's own status when it gave one and
// 502 for anything else (timeouts, refused connections, bad payloads).
func (h *Handler) backendError(c *gin.Context, op string, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
		h.logger.Warnf("%s: %v", op, err)
		msg := apiErr.Body
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		c.JSON(apiErr.StatusCode, gin.H{"error": msg})
		return
	}
	if errors.Is(err, context.Canceled) {
		// client went away
		c.Status(499)
		return
	}
	h.logger.Errorf("%s: %v", op, err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "websockets": h.svc.Hub().Count()})
}

type loginRequest struct {
	User     string `json:"user" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	session, err := h.svc.Login(c.Request.Context(), req.User, req.Password)
	if err != nil {
		h.backendError(c, "Login "+req.User, err)
		return
	}
	h.logger.Infof("User %s logged in", req.User)
	c.JSON(http.StatusOK, session)
}

func (h *Handler) ListMaterials(c *gin.Context) {
	q := models.MaterialQuery{Search: c.Query("search")}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid active"})
			return
		}
		q.Active = &active
	}
	list, err := h.svc.ListMaterials(c.Request.Context(), q)
	if err != nil {
		h.backendError(c, "List materials", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetMaterial(c *gin.Context) {
	m, err := h.svc.GetMaterial(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.backendError(c, "Get material "+c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) CreateMaterial(c *gin.Context) {
	var in models.MaterialInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Errorf("Invalid request body for material: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	m, err := h.svc.CreateMaterial(c.Request.Context(), in)
	if err != nil {
		h.backendError(c, "Create material", err)
		return
	}
	h.logger.Infof("Created material: %s", m.ID)
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) UpdateMaterial(c *gin.Context) {
	var in models.MaterialInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Errorf("Invalid request body for material: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	m, err := h.svc.UpdateMaterial(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.backendError(c, "Update material "+c.Param("id"), err)
		return
	}
	h.logger.Infof("Updated material: %s", c.Param("id"))
	c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMaterial(c *gin.Context) {
	if err := h.svc.DeleteMaterial(c.Request.Context(), c.Param("id")); err != nil {
		h.backendError(c, "Delete material "+c.Param("id"), err)
		return
	}
	h.logger.Infof("Deleted material: %s", c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListBatches(c *gin.Context) {
	list, err := h.svc.ListBatches(c.Request.Context())
	if err != nil {
		h.backendError(c, "List batches", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetBatch(c *gin.Context) {
	b, err := h.svc.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.backendError(c, "Get batch "+c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) ListCycles(c *gin.Context) {
	q := models.CycleQuery{
		MaterialID: c.Query("materialId"),
		BatchID:    c.Query("batchId"),
		Stage:      models.Stage(strings.ToUpper(c.Query("stage"))),
	}
	list, err := h.svc.ListCycles(c.Request.Context(), q)
	if err != nil {
		h.backendError(c, "List cycles", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	f := models.AlertFilter{
		Status:   models.AlertStatus(strings.ToUpper(c.Query("status"))),
		Severity: models.Severity(strings.ToUpper(c.Query("severity"))),
		CycleID:  c.Query("cycleId"),
	}
	list, err := h.svc.ListAlerts(c.Request.Context(), f)
	if err != nil {
		h.backendError(c, "List alerts", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) AlertMap(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.AlertMap())
}

func (h *Handler) AckAlert(c *gin.Context) {
	a, err := h.svc.AckAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.backendError(c, "Ack alert "+c.Param("id"), err)
		return
	}
	h.logger.Infof("Alert %s acknowledged", a.ID)
	c.JSON(http.StatusOK, a)
}

func (h *Handler) ResolveAlert(c *gin.Context) {
	a, err := h.svc.ResolveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.backendError(c, "Resolve alert "+c.Param("id"), err)
		return
	}
	h.logger.Infof("Alert %s resolved", a.ID)
	c.JSON(http.StatusOK, a)
}

// target bundles the per-kind calls so material and batch routes share handlers.
type target struct {
	kind      string
	history   func(context.Context, string) ([]models.HistoryEvent, error)
	reconcile func(context.Context, string) (models.ReconcileResult, error)
	apply     func(context.Context, string) (models.ApplyResult, error)
}

func (h *Handler) materialTarget() target {
	return target{"material", h.svc.MaterialHistory, h.svc.ReconcileMaterial, h.svc.ApplyMaterialReconcile}
}

func (h *Handler) batchTarget() target {
	return target{"batch", h.svc.BatchHistory, h.svc.ReconcileBatch, h.svc.ApplyBatchReconcile}
}

func (h *Handler) History(t target) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := t.history(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.backendError(c, "History of "+t.kind+" "+c.Param("id"), err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func (h *Handler) Reconcile(t target) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := t.reconcile(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.backendError(c, "Reconcile "+t.kind+" "+c.Param("id"), err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) ApplyReconcile(t target) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := t.apply(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.backendError(c, "Apply reconcile "+t.kind+" "+c.Param("id"), err)
			return
		}
		h.logger.Infof("Reconcile applied to %s %s: %d records", t.kind, c.Param("id"), res.Applied)
		c.JSON(http.StatusOK, res)
	}
}

// ExportHistory streams the history (and, with ?reconcile=true, the reconcile
// diff) as an XLSX attachment.
func (h *Handler) ExportHistory(t target) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		events, err := t.history(ctx, id)
		if err != nil {
			h.backendError(c, "Export history of "+t.kind+" "+id, err)
			return
		}
		report := export.Report{TargetType: t.kind, TargetID: id, History: events}
		if withRec, _ := strconv.ParseBool(c.Query("reconcile")); withRec {
			res, err := t.reconcile(ctx, id)
			if err != nil {
				h.backendError(c, "Export reconcile of "+t.kind+" "+id, err)
				return
			}
			report.Reconcile = &res
		}
		raw, err := export.Workbook(report)
		if err != nil {
			h.logger.Errorf("Build workbook for %s %s: %v", t.kind, id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build export"})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+report.Filename()+`"`)
		c.Data(http.StatusOK, export.ContentType, raw)
	}
}

func (h *Handler) MetricsOverview(c *gin.Context) {
	m, err := h.svc.MetricsOverview(c.Request.Context())
	if err != nil {
		h.backendError(c, "Metrics overview", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) Resolve(c *gin.Context) {
	res, err := h.svc.Resolve(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.backendError(c, "Resolve "+c.Query("q"), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListAudit(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.svc.ListAudit(c.Request.Context(), c.Query("target"), limit, offset)
	if errors.Is(err, services.ErrAuditDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Errorf("Failed to list audit: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// page reads limit/offset with a default of 50 and a cap of 500.
func page(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
