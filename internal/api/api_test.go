package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sterilization-gateway/internal/backend"
	"sterilization-gateway/internal/cache"
	"sterilization-gateway/internal/config"
	"sterilization-gateway/internal/db"
	"sterilization-gateway/internal/export"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
	"sterilization-gateway/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// sessions are the tokens the fake backend accepts, by user.
var sessions = map[string]string{"abc": "ana", "other": "bruno", "q1": ""}

// fakeUpstream is the sterilization backend as seen over HTTP.
type fakeUpstream struct {
	mu    sync.Mutex
	hits  map[string]int
	auths []string
	me    int
}

func (f *fakeUpstream) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hits[r.URL.Path]++
		f.auths = append(f.auths, r.Header.Get("Authorization"))
	}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	// token checks are counted apart from the data calls
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.me++
		f.mu.Unlock()
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		user, ok := sessions[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, models.Session{Token: token, User: user})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, models.Session{Token: "tok-ana", User: "ana"})
	})
	mux.HandleFunc("GET /materials", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, []models.Material{{ID: "m1", Name: "Pinça Kelly"}})
	})
	mux.HandleFunc("GET /materials/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"e1","stage":"LAVAGEM","source":"db","timestamp":"2024-03-01T10:00:00Z"}]`))
	})
	mux.HandleFunc("PATCH /alerts/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("alert already resolved"))
	})
	return mux
}

func newTestRouter(t *testing.T, upstreamURL string, store Store) (*gin.Engine, *services.Service) {
	t.Helper()
	logger := logging.NewNop()
	client := backend.New(upstreamURL, "", logger, backend.WithRetries(0), backend.WithTimeout(2*time.Second))
	svc := services.New(client, cache.NewMemory(), time.Minute, nil, nil, logger)
	var cfg config.Config
	cfg.API.BasePath = "/api/v0"
	return NewRouter(svc, store, logger, cfg), svc
}

func setup(t *testing.T, store Store) (*gin.Engine, *services.Service, *fakeUpstream) {
	t.Helper()
	up := &fakeUpstream{hits: map[string]int{}}
	srv := httptest.NewServer(up.handler())
	t.Cleanup(srv.Close)
	r, svc := newTestRouter(t, srv.URL, store)
	return r, svc, up
}

func do(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthIsPublic(t *testing.T) {
	r, _, _ := setup(t, nil)

	w := do(r, http.MethodGet, "/api/v0/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_RequiresToken(t *testing.T) {
	r, _, up := setup(t, nil)

	w := do(r, http.MethodGet, "/api/v0/materials", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, up.count("/materials"))
}

func TestRouter_LoginIsPublic(t *testing.T) {
	r, _, _ := setup(t, nil)

	w := do(r, http.MethodPost, "/api/v0/auth/login", "", `{"user":"ana","password":"x"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var s models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "tok-ana", s.Token)

	w = do(r, http.MethodPost, "/api/v0/auth/login", "", `{"user":"ana"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ForwardsTokenAndCaches(t *testing.T) {
	r, _, up := setup(t, nil)

	for i := 0; i < 2; i++ {
		w := do(r, http.MethodGet, "/api/v0/materials", "abc", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Pinça Kelly")
	}
	assert.Equal(t, 1, up.count("/materials"))

	// a different caller does not share the cached entry
	w := do(r, http.MethodGet, "/api/v0/materials", "other", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, up.count("/materials"))

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, []string{"Bearer abc", "Bearer other"}, up.auths)
	// one session check per token
	assert.Equal(t, 2, up.me)
}

func TestRouter_RejectsUnknownToken(t *testing.T) {
	r, svc, up := setup(t, nil)
	svc.SetAlertMap(staticMap{"c1": models.SeverityCritical})

	for _, path := range []string{"/api/v0/audit", "/api/v0/alerts/map", "/api/v0/materials"} {
		w := do(r, http.MethodGet, path, "forged", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.NotContains(t, w.Body.String(), "CRITICAL", path)
	}
	assert.Zero(t, up.count("/materials"))

	// rejections are not cached
	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, 3, up.me)
}

func TestRouter_TokenQueryParam(t *testing.T) {
	r, _, up := setup(t, nil)

	w := do(r, http.MethodGet, "/api/v0/materials?token=q1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Equal(t, []string{"Bearer q1"}, up.auths)
}

func TestRouter_PropagatesBackendStatus(t *testing.T) {
	r, _, _ := setup(t, nil)

	w := do(r, http.MethodPatch, "/api/v0/alerts/a1/ack", "abc", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"alert already resolved"}`, w.Body.String())
}

func TestRouter_BackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	r, _ := newTestRouter(t, url, nil)

	w := do(r, http.MethodGet, "/api/v0/materials", "abc", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"backend unavailable"}`, w.Body.String())
}

func TestRouter_ExportHistory(t *testing.T) {
	r, _, _ := setup(t, nil)

	w := do(r, http.MethodGet, "/api/v0/materials/m1/history/export", "abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "material-m1-history.xlsx")
	// xlsx is a zip archive
	assert.True(t, strings.HasPrefix(w.Body.String(), "PK"))
}

func TestRouter_HistoryIsNormalized(t *testing.T) {
	r, _, _ := setup(t, nil)

	w := do(r, http.MethodGet, "/api/v0/materials/m1/history", "abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []models.HistoryEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, models.StageLavagem, events[0].Stage)
	assert.Equal(t, models.SourceDB, events[0].Source)
}

type staticMap map[string]models.Severity

func (m staticMap) Map() map[string]models.Severity { return m }

func TestRouter_AlertMap(t *testing.T) {
	r, svc, _ := setup(t, nil)

	w := do(r, http.MethodGet, "/api/v0/alerts/map", "abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	svc.SetAlertMap(staticMap{"c1": models.SeverityCritical})
	w = do(r, http.MethodGet, "/api/v0/alerts/map", "abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"c1":"CRITICAL"}`, w.Body.String())
}

func TestRouter_AuditDisabled(t *testing.T) {
	r, _, _ := setup(t, nil)

	w := do(r, http.MethodGet, "/api/v0/audit", "abc", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_NotificationRoutesNeedDatabase(t *testing.T) {
	r, _, _ := setup(t, nil)

	for _, path := range []string{"/api/v0/contact-points", "/api/v0/policies", "/api/v0/notifications"} {
		w := do(r, http.MethodGet, path, "abc", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	points   map[string]models.ContactPoint
	policies map[string]models.Policy
}

func newMemStore() *memStore {
	return &memStore{points: map[string]models.ContactPoint{}, policies: map[string]models.Policy{}}
}

func (s *memStore) CreateContactPoint(_ context.Context, cp models.ContactPoint) (models.ContactPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.ID = uuid.New()
	cp.Status = "active"
	s.points[uuid.UUID(cp.ID).String()] = cp
	return cp, nil
}

func (s *memStore) GetContactPointByID(_ context.Context, id string) (models.ContactPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.points[id]
	if !ok {
		return models.ContactPoint{}, db.ErrNotFound
	}
	return cp, nil
}

func (s *memStore) ListContactPoints(context.Context) ([]models.ContactPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ContactPoint, 0, len(s.points))
	for _, cp := range s.points {
		out = append(out, cp)
	}
	return out, nil
}

func (s *memStore) UpdateContactPoint(_ context.Context, cp models.ContactPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.UUID(cp.ID).String()
	if _, ok := s.points[id]; !ok {
		return db.ErrNotFound
	}
	s.points[id] = cp
	return nil
}

func (s *memStore) DeleteContactPoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.points, id)
	return nil
}

func (s *memStore) CreatePolicy(_ context.Context, p models.Policy) (models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.New()
	s.policies[uuid.UUID(p.ID).String()] = p
	return p, nil
}

func (s *memStore) GetPolicyByID(_ context.Context, id string) (models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return models.Policy{}, db.ErrNotFound
	}
	return p, nil
}

func (s *memStore) ListActivePolicies(context.Context) ([]models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) UpdatePolicy(_ context.Context, p models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.UUID(p.ID).String()
	if _, ok := s.policies[id]; !ok {
		return db.ErrNotFound
	}
	s.policies[id] = p
	return nil
}

func (s *memStore) DeletePolicy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, id)
	return nil
}

func (s *memStore) ListNotifications(context.Context, string, int, int) ([]models.Notification, error) {
	return []models.Notification{}, nil
}

func TestRouter_ContactPointsAndPolicies(t *testing.T) {
	r, _, _ := setup(t, newMemStore())

	w := do(r, http.MethodPost, "/api/v0/contact-points", "abc",
		`{"name":"CME on-call","type":"telegram","configuration":{"chat_id":42}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var cp models.ContactPoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cp))
	cpID := uuid.UUID(cp.ID).String()

	w = do(r, http.MethodPost, "/api/v0/contact-points", "abc",
		`{"name":"pager","type":"sms","configuration":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v0/contact-points/"+cpID, "abc", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, "/api/v0/contact-points/not-a-uuid", "abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodGet, "/api/v0/contact-points/"+uuid.NewString(), "abc", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/v0/policies", "abc",
		`{"contact_point_id":"`+cpID+`","severity":"CRITICAL","condition_type":"GTE"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var p models.Policy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, cp.ID, p.ContactPointID)
	require.NotNil(t, p.ContactPoint)
	assert.Equal(t, "telegram", p.ContactPoint.Type)

	// unknown contact point
	w = do(r, http.MethodPost, "/api/v0/policies", "abc",
		`{"contact_point_id":"`+uuid.NewString()+`","severity":"CRITICAL","condition_type":"GTE"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// bad condition
	w = do(r, http.MethodPost, "/api/v0/policies", "abc",
		`{"contact_point_id":"`+cpID+`","severity":"CRITICAL","condition_type":"ABOUT"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/api/v0/contact-points/"+cpID, "abc", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestWebSocket_SendsAlertMapOnConnect(t *testing.T) {
	r, svc, _ := setup(t, nil)
	svc.SetAlertMap(staticMap{"c9": models.SeverityWarning})

	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v0/ws?token=abc"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg services.AlertsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "alerts", msg.Type)
	assert.Equal(t, models.SeverityWarning, msg.Map["c9"])

	svc.OnAlertMap(map[string]models.Severity{"c9": models.SeverityCritical})

	msg = services.AlertsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "alerts", msg.Type)
	assert.Equal(t, models.SeverityCritical, msg.Map["c9"])
}

func TestWebSocket_RequiresToken(t *testing.T) {
	r, _, _ := setup(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, query := range []string{"", "?token=forged"} {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v0/ws" + query
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, query)
	}
}
