package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sterilization-gateway/internal/db"
	"sterilization-gateway/internal/models"
)

// Store is the notification configuration the gateway manages itself;
// *db.DB satisfies it.
type Store interface {
	CreateContactPoint(ctx context.Context, cp models.ContactPoint) (models.ContactPoint, error)
	GetContactPointByID(ctx context.Context, id string) (models.ContactPoint, error)
	ListContactPoints(ctx context.Context) ([]models.ContactPoint, error)
	UpdateContactPoint(ctx context.Context, cp models.ContactPoint) error
	DeleteContactPoint(ctx context.Context, id string) error

	CreatePolicy(ctx context.Context, p models.Policy) (models.Policy, error)
	GetPolicyByID(ctx context.Context, id string) (models.Policy, error)
	ListActivePolicies(ctx context.Context) ([]models.Policy, error)
	UpdatePolicy(ctx context.Context, p models.Policy) error
	DeletePolicy(ctx context.Context, id string) error

	ListNotifications(ctx context.Context, cycleID string, limit, offset int) ([]models.Notification, error)
}

// requireStore answers 503 when the gateway runs without a database.
func (h *Handler) requireStore(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return false
	}
	return true
}

func (h *Handler) storeError(c *gin.Context, what string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	h.logger.Errorf("%s: %v", what, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process " + what})
}

func validID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) CreateContactPoint(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var req models.ContactPointCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for contact point: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cp, err := h.store.CreateContactPoint(c.Request.Context(), models.ContactPoint{
		Name:          req.Name,
		Type:          req.Type,
		Configuration: req.Configuration,
	})
	if err != nil {
		h.storeError(c, "contact point", err)
		return
	}

	h.logger.Infof("Created contact point: %s", uuid.UUID(cp.ID))
	c.JSON(http.StatusCreated, cp)
}

func (h *Handler) GetContactPoint(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	if _, ok := validID(c); !ok {
		return
	}
	cp, err := h.store.GetContactPointByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, "contact point", err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) ListContactPoints(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	cps, err := h.store.ListContactPoints(c.Request.Context())
	if err != nil {
		h.storeError(c, "contact points", err)
		return
	}
	c.JSON(http.StatusOK, cps)
}

func (h *Handler) UpdateContactPoint(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	id, ok := validID(c)
	if !ok {
		return
	}
	var req models.ContactPointCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	cp := models.ContactPoint{ID: id, Name: req.Name, Type: req.Type, Configuration: req.Configuration, Status: "active"}
	if err := h.store.UpdateContactPoint(c.Request.Context(), cp); err != nil {
		h.storeError(c, "contact point", err)
		return
	}
	h.logger.Infof("Updated contact point: %s", id)
	c.JSON(http.StatusOK, cp)
}

func (h *Handler) DeleteContactPoint(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	if _, ok := validID(c); !ok {
		return
	}
	if err := h.store.DeleteContactPoint(c.Request.Context(), c.Param("id")); err != nil {
		h.storeError(c, "contact point", err)
		return
	}
	h.logger.Infof("Deleted contact point: %s", c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreatePolicy(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var req models.PolicyCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for policy: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	p, ok := h.policyFrom(c, req)
	if !ok {
		return
	}

	created, err := h.store.CreatePolicy(c.Request.Context(), p)
	if err != nil {
		h.storeError(c, "policy", err)
		return
	}
	h.logger.Infof("Created policy: %s", uuid.UUID(created.ID))
	c.JSON(http.StatusCreated, created)
}

// policyFrom checks that the referenced contact point exists and is active.
func (h *Handler) policyFrom(c *gin.Context, req models.PolicyCreate) (models.Policy, bool) {
	cp, err := h.store.GetContactPointByID(c.Request.Context(), req.ContactPointID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contact point not found"})
		return models.Policy{}, false
	}
	if err != nil {
		h.storeError(c, "contact point", err)
		return models.Policy{}, false
	}
	p := models.Policy{
		ContactPointID: cp.ID,
		Severity:       req.Severity,
		ConditionType:  req.ConditionType,
		Status:         "active",
		ContactPoint:   &cp,
	}
	return p, true
}

func (h *Handler) GetPolicy(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	if _, ok := validID(c); !ok {
		return
	}
	p, err := h.store.GetPolicyByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, "policy", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPolicies(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	list, err := h.store.ListActivePolicies(c.Request.Context())
	if err != nil {
		h.storeError(c, "policies", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) UpdatePolicy(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	id, ok := validID(c)
	if !ok {
		return
	}
	var req models.PolicyCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	p, ok := h.policyFrom(c, req)
	if !ok {
		return
	}
	p.ID = id
	if err := h.store.UpdatePolicy(c.Request.Context(), p); err != nil {
		h.storeError(c, "policy", err)
		return
	}
	h.logger.Infof("Updated policy: %s", id)
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePolicy(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	if _, ok := validID(c); !ok {
		return
	}
	if err := h.store.DeletePolicy(c.Request.Context(), c.Param("id")); err != nil {
		h.storeError(c, "policy", err)
		return
	}
	h.logger.Infof("Deleted policy: %s", c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListNotifications(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	limit, offset := page(c)
	list, err := h.store.ListNotifications(c.Request.Context(), c.Query("cycleId"), limit, offset)
	if err != nil {
		h.storeError(c, "notifications", err)
		return
	}
	c.JSON(http.StatusOK, list)
}
