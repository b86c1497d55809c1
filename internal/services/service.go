package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sterilization-gateway/internal/backend"
	"sterilization-gateway/internal/cache"
	"sterilization-gateway/internal/events"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
)

// ErrAuditDisabled is returned by audit reads when no database is configured.
var ErrAuditDisabled = errors.New("audit store not configured")

// Backend is the part of *backend.Client the dashboard uses.
type Backend interface {
	Login(ctx context.Context, user, password string) (models.Session, error)
	Me(ctx context.Context) (models.Session, error)
	ListMaterials(ctx context.Context, q models.MaterialQuery) ([]models.Material, error)
	GetMaterial(ctx context.Context, id string) (models.Material, error)
	CreateMaterial(ctx context.Context, in models.MaterialInput) (models.Material, error)
	UpdateMaterial(ctx context.Context, id string, in models.MaterialInput) (models.Material, error)
	DeleteMaterial(ctx context.Context, id string) error
	ListBatches(ctx context.Context) ([]models.Batch, error)
	GetBatch(ctx context.Context, id string) (models.Batch, error)
	ListCycles(ctx context.Context, q models.CycleQuery) ([]models.Cycle, error)
	ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error)
	AckAlert(ctx context.Context, id string) (models.Alert, error)
	ResolveAlert(ctx context.Context, id string) (models.Alert, error)
	MaterialHistory(ctx context.Context, id string) ([]models.HistoryEvent, error)
	BatchHistory(ctx context.Context, id string) ([]models.HistoryEvent, error)
	ReconcileMaterial(ctx context.Context, id string) (models.ReconcileResult, error)
	ApplyMaterialReconcile(ctx context.Context, id string) (models.ApplyResult, error)
	ReconcileBatch(ctx context.Context, id string) (models.ReconcileResult, error)
	ApplyBatchReconcile(ctx context.Context, id string) (models.ApplyResult, error)
	MetricsOverview(ctx context.Context) (models.MetricsOverview, error)
	Resolve(ctx context.Context, q string) (models.SearchResult, error)
}

// AuditStore persists operator actions; *db.DB satisfies it.
type AuditStore interface {
	InsertAudit(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error)
	ListAudit(ctx context.Context, targetID string, limit, offset int) ([]models.AuditEntry, error)
}

// AlertMap serves the aggregated severity map; *alerts.Poller satisfies it.
type AlertMap interface {
	Map() map[string]models.Severity
}

// Service is the dashboard's data layer: cached backend reads, write
// pass-through with invalidation, audit and websocket fan-out.
type Service struct {
	backend Backend
	store   cache.Store
	ttl     time.Duration
	audit   AuditStore
	alerts  AlertMap
	hub     *WebSocketManager
	logger  *logging.Logger
}

// New constructs the dashboard service. audit and alerts may be nil.
func New(b Backend, store cache.Store, ttl time.Duration, audit AuditStore, alerts AlertMap, logger *logging.Logger) *Service {
	return &Service{
		backend: b,
		store:   store,
		ttl:     ttl,
		audit:   audit,
		alerts:  alerts,
		hub:     NewWebSocketManager(logger),
		logger:  logger,
	}
}

// Logger exposes the Service's logger
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

func (s *Service) Hub() *WebSocketManager {
	return s.hub
}

// SetAlertMap wires the poller after construction; the poller's callbacks
// need the hub, so it is built second.
func (s *Service) SetAlertMap(m AlertMap) {
	s.alerts = m
}

// cached serves key from the cache or calls fetch and stores the result.
// Keys are scoped by the caller's token so one user never reads another's
// cached answer. Cache failures degrade to a direct fetch.
func cached[T any](ctx context.Context, s *Service, group cache.Group, key string, fetch func(context.Context) (T, error)) (T, error) {
	scoped := scope(ctx) + ":" + key
	var hit T
	ok, err := s.store.Get(ctx, group, scoped, &hit)
	if err != nil {
		s.logger.Warnf("Cache read %s/%s failed: %v", group, key, err)
	} else if ok {
		return hit, nil
	}

	// An invalidation that lands while fetch runs must win over its result.
	gen, genErr := s.store.Generation(ctx, group)
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if genErr != nil {
		s.logger.Warnf("Cache generation %s failed, not caching %s: %v", group, key, genErr)
		return v, nil
	}
	switch err := s.store.SetAt(ctx, group, gen, scoped, v, s.ttl); {
	case errors.Is(err, cache.ErrStale):
		s.logger.Debugf("Cache write %s/%s dropped, group invalidated during fetch", group, key)
	case err != nil:
		s.logger.Warnf("Cache write %s/%s failed: %v", group, key, err)
	}
	return v, nil
}

func scope(ctx context.Context) string {
	token := backend.TokenFrom(ctx)
	if token == "" {
		return "svc"
	}
	return Fingerprint(token)
}

// Fingerprint is a short stable digest of a bearer token, safe to log and to
// use as a cache or connection key.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func (s *Service) Login(ctx context.Context, user, password string) (models.Session, error) {
	return s.backend.Login(ctx, user, password)
}

// Authenticate checks token against the backend and returns the user it
// belongs to, or its fingerprint when the backend names none. Accepted tokens
// are cached for the service TTL; rejected ones are asked again every time.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	ctx = backend.WithToken(ctx, token)
	session, err := cached(ctx, s, cache.Sessions, "me", s.backend.Me)
	if err != nil {
		return "", err
	}
	if !session.ExpiresAt.IsZero() && time.Now().After(session.ExpiresAt) {
		return "", &backend.APIError{StatusCode: 401, Body: "session expired"}
	}
	if session.User == "" {
		return Fingerprint(token), nil
	}
	return session.User, nil
}

func (s *Service) ListMaterials(ctx context.Context, q models.MaterialQuery) ([]models.Material, error) {
	key := "list:" + q.Search
	if q.Active != nil {
		key += ":active=" + strconv.FormatBool(*q.Active)
	}
	return cached(ctx, s, cache.Materials, key, func(ctx context.Context) ([]models.Material, error) {
		return s.backend.ListMaterials(ctx, q)
	})
}

func (s *Service) GetMaterial(ctx context.Context, id string) (models.Material, error) {
	return cached(ctx, s, cache.Materials, "get:"+id, func(ctx context.Context) (models.Material, error) {
		return s.backend.GetMaterial(ctx, id)
	})
}

func (s *Service) CreateMaterial(ctx context.Context, in models.MaterialInput) (models.Material, error) {
	m, err := s.backend.CreateMaterial(ctx, in)
	if err != nil {
		return models.Material{}, err
	}
	s.invalidate(ctx, cache.Materials, cache.Metrics)
	s.record(ctx, models.ActionMaterialCreate, m.ID, map[string]any{"name": m.Name, "code": m.Code})
	return m, nil
}

func (s *Service) UpdateMaterial(ctx context.Context, id string, in models.MaterialInput) (models.Material, error) {
	m, err := s.backend.UpdateMaterial(ctx, id, in)
	if err != nil {
		return models.Material{}, err
	}
	s.invalidate(ctx, cache.Materials, cache.Metrics)
	s.record(ctx, models.ActionMaterialUpdate, id, map[string]any{"name": in.Name, "code": in.Code})
	return m, nil
}

func (s *Service) DeleteMaterial(ctx context.Context, id string) error {
	if err := s.backend.DeleteMaterial(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, cache.Materials, cache.Metrics)
	s.record(ctx, models.ActionMaterialDelete, id, nil)
	return nil
}

func (s *Service) ListBatches(ctx context.Context) ([]models.Batch, error) {
	return cached(ctx, s, cache.Batches, "list", s.backend.ListBatches)
}

func (s *Service) GetBatch(ctx context.Context, id string) (models.Batch, error) {
	return cached(ctx, s, cache.Batches, "get:"+id, func(ctx context.Context) (models.Batch, error) {
		return s.backend.GetBatch(ctx, id)
	})
}

func (s *Service) ListCycles(ctx context.Context, q models.CycleQuery) ([]models.Cycle, error) {
	key := fmt.Sprintf("list:%s:%s:%s", q.MaterialID, q.BatchID, q.Stage)
	return cached(ctx, s, cache.Cycles, key, func(ctx context.Context) ([]models.Cycle, error) {
		return s.backend.ListCycles(ctx, q)
	})
}

func (s *Service) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	key := fmt.Sprintf("list:%s:%s:%s", f.Status, f.Severity, f.CycleID)
	return cached(ctx, s, cache.Alerts, key, func(ctx context.Context) ([]models.Alert, error) {
		return s.backend.ListAlerts(ctx, f)
	})
}

// AlertMap returns the poller's per-cycle severity map, or an empty map when
// no poller runs.
func (s *Service) AlertMap() map[string]models.Severity {
	if s.alerts == nil {
		return map[string]models.Severity{}
	}
	return s.alerts.Map()
}

// AckAlert and ResolveAlert are the only alert transitions the gateway exposes.
func (s *Service) AckAlert(ctx context.Context, id string) (models.Alert, error) {
	a, err := s.backend.AckAlert(ctx, id)
	if err != nil {
		return models.Alert{}, err
	}
	s.invalidate(ctx, cache.Alerts, cache.Metrics)
	s.record(ctx, models.ActionAlertAck, id, map[string]any{"cycleId": a.CycleID, "status": a.Status})
	return a, nil
}

func (s *Service) ResolveAlert(ctx context.Context, id string) (models.Alert, error) {
	a, err := s.backend.ResolveAlert(ctx, id)
	if err != nil {
		return models.Alert{}, err
	}
	s.invalidate(ctx, cache.Alerts, cache.Metrics)
	s.record(ctx, models.ActionAlertResolve, id, map[string]any{"cycleId": a.CycleID, "status": a.Status})
	return a, nil
}

func (s *Service) MaterialHistory(ctx context.Context, id string) ([]models.HistoryEvent, error) {
	return cached(ctx, s, cache.Cycles, "history:material:"+id, func(ctx context.Context) ([]models.HistoryEvent, error) {
		return s.backend.MaterialHistory(ctx, id)
	})
}

func (s *Service) BatchHistory(ctx context.Context, id string) ([]models.HistoryEvent, error) {
	return cached(ctx, s, cache.Cycles, "history:batch:"+id, func(ctx context.Context) ([]models.HistoryEvent, error) {
		return s.backend.BatchHistory(ctx, id)
	})
}

func (s *Service) ReconcileMaterial(ctx context.Context, id string) (models.ReconcileResult, error) {
	return cached(ctx, s, cache.Cycles, "reconcile:material:"+id, func(ctx context.Context) (models.ReconcileResult, error) {
		return s.backend.ReconcileMaterial(ctx, id)
	})
}

func (s *Service) ReconcileBatch(ctx context.Context, id string) (models.ReconcileResult, error) {
	return cached(ctx, s, cache.Cycles, "reconcile:batch:"+id, func(ctx context.Context) (models.ReconcileResult, error) {
		return s.backend.ReconcileBatch(ctx, id)
	})
}

func (s *Service) ApplyMaterialReconcile(ctx context.Context, id string) (models.ApplyResult, error) {
	res, err := s.backend.ApplyMaterialReconcile(ctx, id)
	if err != nil {
		return models.ApplyResult{}, err
	}
	s.invalidate(ctx, cache.Materials, cache.Cycles, cache.Metrics)
	s.record(ctx, models.ActionReconcileApply, id, map[string]any{"target": "material", "applied": res.Applied})
	return res, nil
}

func (s *Service) ApplyBatchReconcile(ctx context.Context, id string) (models.ApplyResult, error) {
	res, err := s.backend.ApplyBatchReconcile(ctx, id)
	if err != nil {
		return models.ApplyResult{}, err
	}
	s.invalidate(ctx, cache.Batches, cache.Cycles, cache.Metrics)
	s.record(ctx, models.ActionReconcileApply, id, map[string]any{"target": "batch", "applied": res.Applied})
	return res, nil
}

func (s *Service) MetricsOverview(ctx context.Context) (models.MetricsOverview, error) {
	return cached(ctx, s, cache.Metrics, "overview", s.backend.MetricsOverview)
}

// Resolve is not cached: a scanned code is usually looked up once.
func (s *Service) Resolve(ctx context.Context, q string) (models.SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return models.SearchResult{}, &backend.APIError{StatusCode: 400, Body: "empty query"}
	}
	return s.backend.Resolve(ctx, q)
}

func (s *Service) ListAudit(ctx context.Context, targetID string, limit, offset int) ([]models.AuditEntry, error) {
	if s.audit == nil {
		return nil, ErrAuditDisabled
	}
	return s.audit.ListAudit(ctx, targetID, limit, offset)
}

// invalidate drops groups and tells connected browsers to refetch them.
func (s *Service) invalidate(ctx context.Context, groups ...cache.Group) {
	if err := s.store.Invalidate(ctx, groups...); err != nil {
		s.logger.Warnf("Invalidate %v failed: %v", groups, err)
	}
	s.hub.BroadcastInvalidate(groups)
}

// OnInvalidate is an events.Listener: the dispatcher already dropped the
// groups, so only browsers need telling.
func (s *Service) OnInvalidate(groups []cache.Group, _ events.CyclePayload) {
	s.hub.BroadcastInvalidate(groups)
}

// OnAlertMap is the poller's change callback.
func (s *Service) OnAlertMap(m map[string]models.Severity) {
	if err := s.store.Invalidate(context.Background(), cache.Alerts); err != nil {
		s.logger.Warnf("Invalidate alerts failed: %v", err)
	}
	s.hub.BroadcastAlerts(m)
}

func (s *Service) record(ctx context.Context, action, target string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	meta := MetaFrom(ctx)
	entry := models.AuditEntry{
		Action:    action,
		TargetID:  target,
		Actor:     meta.Actor,
		RequestID: meta.RequestID,
		Detail:    detail,
	}
	if _, err := s.audit.InsertAudit(ctx, entry); err != nil {
		// the backend write already succeeded; losing the audit row is logged, not returned
		s.logger.Errorf("Audit %s %s failed: %v", action, target, err)
	}
}
