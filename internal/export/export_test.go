package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sterilization-gateway/internal/models"
)

func sampleHistory() []models.HistoryEvent {
	t0 := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	return []models.HistoryEvent{
		{Source: models.SourceDB, Stage: models.StageRecebimento, Timestamp: t0, Operator: "ana", CycleID: "c1"},
		{Source: models.SourceLedger, Stage: models.StageLavagem, Timestamp: t0.Add(time.Hour), Result: "OK", TxID: "tx-9"},
	}
}

func TestWorkbook_HistoryOnly(t *testing.T) {
	raw, err := Workbook(Report{TargetType: "material", TargetID: "m1", History: sampleHistory()})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{HistorySheet}, f.GetSheetList())
	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, historyHeader, rows[0])
	assert.Equal(t, "2024-05-02 08:30:00", rows[1][0])
	assert.Equal(t, "RECEBIMENTO", rows[1][1])
	assert.Equal(t, "DB", rows[1][2])
	assert.Equal(t, "LEDGER", rows[2][2])
	assert.Equal(t, "tx-9", rows[2][8])
}

func TestWorkbook_WithReconcile(t *testing.T) {
	hist := sampleHistory()
	res := &models.ReconcileResult{
		TargetType: "batch",
		TargetID:   "b1",
		Summary:    models.ReconcileSummary{DB: 1, Ledger: 2, Matched: 1, MissingDB: 1},
		Diffs: []models.DiffEntry{
			{Index: 1, Kind: models.DiffMissingDB, Ledger: &hist[1]},
		},
		Policy: models.ReprocessPolicy{Status: models.PolicyNear, ReprocessCount: 9, Limit: 10},
	}
	raw, err := Workbook(Report{TargetType: "batch", TargetID: "b1", History: hist, Reconcile: res})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{HistorySheet, ReconcileSheet}, f.GetSheetList())

	kind, err := f.GetCellValue(ReconcileSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "missing-db", kind)

	tx, err := f.GetCellValue(ReconcileSheet, "H2")
	require.NoError(t, err)
	assert.Equal(t, "tx-9", tx)

	policy, err := f.GetCellValue(ReconcileSheet, "K8")
	require.NoError(t, err)
	assert.Equal(t, "near (9/10)", policy)
}

func TestReportFilename(t *testing.T) {
	assert.Equal(t, "batch-b1-history.xlsx", Report{TargetType: "batch", TargetID: "b1"}.Filename())
}
