package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"sterilization-gateway/internal/history"
	"sterilization-gateway/internal/models"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, user, password string) (models.Session, error) {
	var s models.Session
	body := map[string]string{"user": user, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &s, nil); err != nil {
		return models.Session{}, err
	}
	return s, nil
}

// Me returns the session the request token belongs to. An unknown or expired
// token answers 401.
func (c *Client) Me(ctx context.Context) (models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &s, nil); err != nil {
		return models.Session{}, err
	}
	return s, nil
}

func (c *Client) ListMaterials(ctx context.Context, q models.MaterialQuery) ([]models.Material, error) {
	query := map[string]string{}
	if q.Search != "" {
		query["search"] = q.Search
	}
	if q.Active != nil {
		query["active"] = strconv.FormatBool(*q.Active)
	}
	var out []models.Material
	if err := c.do(ctx, http.MethodGet, "/materials", nil, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetMaterial(ctx context.Context, id string) (models.Material, error) {
	var m models.Material
	if err := c.do(ctx, http.MethodGet, "/materials/"+url.PathEscape(id), nil, &m, nil); err != nil {
		return models.Material{}, err
	}
	return m, nil
}

func (c *Client) CreateMaterial(ctx context.Context, in models.MaterialInput) (models.Material, error) {
	var m models.Material
	if err := c.do(ctx, http.MethodPost, "/materials", in, &m, nil); err != nil {
		return models.Material{}, err
	}
	return m, nil
}

func (c *Client) UpdateMaterial(ctx context.Context, id string, in models.MaterialInput) (models.Material, error) {
	var m models.Material
	if err := c.do(ctx, http.MethodPut, "/materials/"+url.PathEscape(id), in, &m, nil); err != nil {
		return models.Material{}, err
	}
	return m, nil
}

func (c *Client) DeleteMaterial(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/materials/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) ListBatches(ctx context.Context) ([]models.Batch, error) {
	var out []models.Batch
	if err := c.do(ctx, http.MethodGet, "/batches", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBatch(ctx context.Context, id string) (models.Batch, error) {
	var b models.Batch
	if err := c.do(ctx, http.MethodGet, "/batches/"+url.PathEscape(id), nil, &b, nil); err != nil {
		return models.Batch{}, err
	}
	return b, nil
}

func (c *Client) ListCycles(ctx context.Context, q models.CycleQuery) ([]models.Cycle, error) {
	query := map[string]string{}
	if q.MaterialID != "" {
		query["materialId"] = q.MaterialID
	}
	if q.BatchID != "" {
		query["batchId"] = q.BatchID
	}
	if q.Stage != "" {
		query["stage"] = string(q.Stage)
	}
	var out []models.Cycle
	if err := c.do(ctx, http.MethodGet, "/cycles", nil, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	query := map[string]string{}
	if f.Status != "" {
		query["status"] = string(f.Status)
	}
	if f.Severity != "" {
		query["severity"] = string(f.Severity)
	}
	if f.CycleID != "" {
		query["cycleId"] = f.CycleID
	}
	var out []models.Alert
	if err := c.do(ctx, http.MethodGet, "/alerts", nil, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

// AckAlert moves an alert from OPEN to ACKED.
func (c *Client) AckAlert(ctx context.Context, id string) (models.Alert, error) {
	var a models.Alert
	if err := c.do(ctx, http.MethodPatch, "/alerts/"+url.PathEscape(id)+"/ack", nil, &a, nil); err != nil {
		return models.Alert{}, err
	}
	return a, nil
}

// ResolveAlert moves an alert to RESOLVED.
func (c *Client) ResolveAlert(ctx context.Context, id string) (models.Alert, error) {
	var a models.Alert
	if err := c.do(ctx, http.MethodPatch, "/alerts/"+url.PathEscape(id)+"/resolve", nil, &a, nil); err != nil {
		return models.Alert{}, err
	}
	return a, nil
}

func (c *Client) MaterialHistory(ctx context.Context, id string) ([]models.HistoryEvent, error) {
	return c.history(ctx, "/materials/"+url.PathEscape(id)+"/history")
}

func (c *Client) BatchHistory(ctx context.Context, id string) ([]models.HistoryEvent, error) {
	return c.history(ctx, "/batches/"+url.PathEscape(id)+"/history")
}

// history fetches the raw body so that history.Decode can cope with every shape
// the endpoint has returned.
func (c *Client) history(ctx context.Context, path string) ([]models.HistoryEvent, error) {
	resp, err := c.request(ctx).Get(path)
	if err != nil {
		return nil, fmt.Errorf("backend GET %s: %w", path, err)
	}
	if resp.IsError() {
		b := resp.String()
		if len(b) > 512 {
			b = b[:512]
		}
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: b}
	}
	events, err := history.Decode(resp.Body())
	if err != nil {
		c.logger.Errorf("Decode history %s failed: %v", path, err)
		return nil, err
	}
	return events, nil
}

func (c *Client) ReconcileMaterial(ctx context.Context, id string) (models.ReconcileResult, error) {
	return c.reconcile(ctx, "materials", id)
}

func (c *Client) ApplyMaterialReconcile(ctx context.Context, id string) (models.ApplyResult, error) {
	return c.applyReconcile(ctx, "materials", id)
}

func (c *Client) ReconcileBatch(ctx context.Context, id string) (models.ReconcileResult, error) {
	return c.reconcile(ctx, "batches", id)
}

func (c *Client) ApplyBatchReconcile(ctx context.Context, id string) (models.ApplyResult, error) {
	return c.applyReconcile(ctx, "batches", id)
}

func (c *Client) reconcile(ctx context.Context, kind, id string) (models.ReconcileResult, error) {
	var r models.ReconcileResult
	if err := c.do(ctx, http.MethodGet, "/"+kind+"/"+url.PathEscape(id)+"/reconcile", nil, &r, nil); err != nil {
		return models.ReconcileResult{}, err
	}
	if r.TargetID == "" {
		r.TargetID = id
	}
	if r.TargetType == "" {
		r.TargetType = singular(kind)
	}
	return r, nil
}

func (c *Client) applyReconcile(ctx context.Context, kind, id string) (models.ApplyResult, error) {
	var r models.ApplyResult
	if err := c.do(ctx, http.MethodPost, "/"+kind+"/"+url.PathEscape(id)+"/reconcile/apply", nil, &r, nil); err != nil {
		return models.ApplyResult{}, err
	}
	if r.TargetID == "" {
		r.TargetID = id
	}
	return r, nil
}

func singular(kind string) string {
	if kind == "batches" {
		return "batch"
	}
	return "material"
}

func (c *Client) MetricsOverview(ctx context.Context) (models.MetricsOverview, error) {
	var m models.MetricsOverview
	if err := c.do(ctx, http.MethodGet, "/metrics/overview", nil, &m, nil); err != nil {
		return models.MetricsOverview{}, err
	}
	return m, nil
}

// Resolve looks up which entity a scanned or typed code belongs to.
func (c *Client) Resolve(ctx context.Context, q string) (models.SearchResult, error) {
	var r models.SearchResult
	if err := c.do(ctx, http.MethodGet, "/search/resolve", nil, &r, map[string]string{"q": q}); err != nil {
		return models.SearchResult{}, err
	}
	return r, nil
}
