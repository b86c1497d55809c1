package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sterilization-gateway/internal/models"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /alerts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "OPEN" {
			http.Error(w, "expected open filter", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]models.Alert{
			{ID: "a1", CycleID: "c1", Severity: models.SeverityWarning, Status: models.AlertOpen},
			{ID: "a2", CycleID: "c1", Severity: models.SeverityCritical, Status: models.AlertOpen},
			{ID: "a3", CycleID: "c2", Severity: models.SeverityInfo, Status: models.AlertOpen},
		})
	})
	mux.HandleFunc("PATCH /alerts/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "alert is not open", http.StatusConflict)
	})
	mux.HandleFunc("POST /materials/{id}/reconcile/apply", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"applied":3}`))
	})
	mux.HandleFunc("GET /batches/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"db":[{"id":"d1","etapa":"Lavagem","timestamp":"2024-03-01T10:00:00Z"}],
			"ledger":[{"id":"l1","etapa":"LAVAGEM","txId":"tx-1","timestamp":"2024-03-01T09:00:00Z"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// run executes the root command with fresh flag values and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	asJSON, verbose, reconcileApply, exportReconcile = false, false, false, false
	exportOut, materialSearch, alertStatus, alertSeverity, alertCycle = "", "", "", "", ""
	token = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAlertsMap_AggregatesOpenAlerts(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--url", srv.URL, "--json", "alerts", "map")
	require.NoError(t, err)

	var m map[string]models.Severity
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, map[string]models.Severity{"c1": models.SeverityCritical, "c2": models.SeverityInfo}, m)
}

func TestAlertsAck_ReportsBackendError(t *testing.T) {
	srv := fakeBackend(t)

	_, err := run(t, "--url", srv.URL, "alerts", "ack", "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "alert is not open")
}

func TestReconcileApply(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--url", srv.URL, "--token", "tok", "reconcile", "material", "m1", "--apply")
	require.NoError(t, err)
	assert.Equal(t, "applied 3 records to material m1\n", out)
}

func TestReconcile_UnknownTarget(t *testing.T) {
	srv := fakeBackend(t)

	_, err := run(t, "--url", srv.URL, "reconcile", "cycle", "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

func TestHistory_MergesSources(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--url", srv.URL, "--json", "history", "batch", "b1")
	require.NoError(t, err)

	var list []models.HistoryEvent
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "l1", list[0].ID)
	assert.Equal(t, models.SourceLedger, list[0].Source)
	assert.Equal(t, models.StageLavagem, list[1].Stage)
}

func TestExport_WritesWorkbook(t *testing.T) {
	srv := fakeBackend(t)
	path := filepath.Join(t.TempDir(), "b1.xlsx")

	out, err := run(t, "--url", srv.URL, "export", "batch", "b1", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 events to "+path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("PK")))
}

func TestRoot_RequiresURL(t *testing.T) {
	_, err := run(t, "--url", "", "metrics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend URL is required")
}

func TestWatch_SkipsPings(t *testing.T) {
	stream := strings.Join([]string{
		": connected",
		"",
		"event: ping",
		"data: {}",
		"",
		"id: 7",
		"event: cycle",
		`data: {"cycleId":"c1","stage":"LAVAGEM"}`,
		"",
		"",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, watch(context.Background(), strings.NewReader(stream), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "\tcycle\t")
	assert.Contains(t, lines[0], `"cycleId":"c1"`)
}
