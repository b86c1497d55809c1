// Package export renders material and batch reports as XLSX workbooks.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"sterilization-gateway/internal/models"
)

const (
	HistorySheet   = "History"
	ReconcileSheet = "Reconcile"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var historyHeader = []string{"Timestamp", "Stage", "Source", "Result", "Operator", "Cycle", "Batch", "Material", "Tx"}

var historyWidths = []float64{22, 16, 10, 14, 18, 20, 20, 20, 40}

var reconcileHeader = []string{"#", "Kind", "Fields", "DB stage", "DB time", "Ledger stage", "Ledger time", "Ledger tx"}

var reconcileWidths = []float64{6, 16, 24, 16, 22, 16, 22, 40}

// Report is what one export contains. Reconcile is optional.
type Report struct {
	TargetType string // material or batch
	TargetID   string
	History    []models.HistoryEvent
	Reconcile  *models.ReconcileResult
}

// Filename is the suggested attachment name for the report.
func (r Report) Filename() string {
	return fmt.Sprintf("%s-%s-history.xlsx", r.TargetType, r.TargetID)
}

// Workbook builds the XLSX file and returns its bytes.
func Workbook(r Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows := make([][]any, 0, len(r.History))
	for _, ev := range r.History {
		rows = append(rows, []any{
			formatTime(ev.Timestamp),
			string(ev.Stage),
			string(ev.Source),
			ev.Result,
			ev.Operator,
			ev.CycleID,
			ev.BatchID,
			ev.MaterialID,
			ev.TxID,
		})
	}
	if err := writeTable(f, HistorySheet, headerStyle, historyHeader, historyWidths, rows); err != nil {
		return nil, err
	}

	if r.Reconcile != nil {
		if _, err := f.NewSheet(ReconcileSheet); err != nil {
			return nil, fmt.Errorf("failed to create sheet: %w", err)
		}
		if err := writeReconcile(f, headerStyle, *r.Reconcile); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeReconcile(f *excelize.File, headerStyle int, res models.ReconcileResult) error {
	rows := make([][]any, 0, len(res.Diffs))
	for _, d := range res.Diffs {
		row := []any{d.Index, string(d.Kind), strings.Join(d.Fields, ", "), "", "", "", "", ""}
		if d.DB != nil {
			row[3] = string(d.DB.Stage)
			row[4] = formatTime(d.DB.Timestamp)
		}
		if d.Ledger != nil {
			row[5] = string(d.Ledger.Stage)
			row[6] = formatTime(d.Ledger.Timestamp)
			row[7] = d.Ledger.TxID
		}
		rows = append(rows, row)
	}
	if err := writeTable(f, ReconcileSheet, headerStyle, reconcileHeader, reconcileWidths, rows); err != nil {
		return err
	}

	// summary block to the right of the diff table
	s := res.Summary
	summary := [][]any{
		{"Target", fmt.Sprintf("%s %s", res.TargetType, res.TargetID)},
		{"DB records", s.DB},
		{"Ledger records", s.Ledger},
		{"Matched", s.Matched},
		{"Missing in DB", s.MissingDB},
		{"Missing in ledger", s.MissingLedger},
		{"Mismatch", s.Mismatch},
		{"Reprocess policy", fmt.Sprintf("%s (%d/%d)", res.Policy.Status, res.Policy.ReprocessCount, res.Policy.Limit)},
	}
	startCol := len(reconcileHeader) + 2
	for i, line := range summary {
		cell, err := excelize.CoordinatesToCellName(startCol, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(ReconcileSheet, cell, &line); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	return nil
}

func writeTable(f *excelize.File, sheet string, headerStyle int, header []string, widths []float64, rows [][]any) error {
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if col < len(widths) {
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
