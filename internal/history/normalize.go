// Package history turns raw history events, as returned by either the relational
// database or the ledger, into models.HistoryEvent.
//
// The backend has shipped several field spellings over time (Portuguese and
// English, camelCase and snake_case). Every field takes the first alias that is
// present and non-empty. Unknown input is never rejected: source falls back to DB,
// stage to RECEBIMENTO and timestamps to the zero time.
package history

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"sterilization-gateway/internal/models"
)

var (
	idKeys        = []string{"id", "eventId", "_id"}
	timestampKeys = []string{"timestamp", "occurredAt", "createdAt", "dataHora", "data"}
	stageKeys     = []string{"stage", "etapa"}
	sourceKeys    = []string{"source", "origem", "fonte"}
	operatorKeys  = []string{"operator", "operador", "responsavel", "user"}
	resultKeys    = []string{"result", "resultado", "status"}
	cycleKeys     = []string{"cycleId", "cicloId", "cycle_id"}
	batchKeys     = []string{"batchId", "loteId", "batch_id"}
	materialKeys  = []string{"materialId", "material_id"}
	txKeys        = []string{"txId", "txid", "transactionId"}
)

var stageAliases = map[string]models.Stage{
	"RECEBIMENTO":   models.StageRecebimento,
	"RECEPTION":     models.StageRecebimento,
	"LAVAGEM":       models.StageLavagem,
	"WASHING":       models.StageLavagem,
	"DESINFECCAO":   models.StageDesinfeccao,
	"DISINFECTION":  models.StageDesinfeccao,
	"ESTERILIZACAO": models.StageEsterilizacao,
	"STERILIZATION": models.StageEsterilizacao,
	"ARMAZENAMENTO": models.StageArmazenamento,
	"STORAGE":       models.StageArmazenamento,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize maps one raw event. It never fails.
func Normalize(raw map[string]any) models.HistoryEvent {
	return models.HistoryEvent{
		ID:         pickString(raw, idKeys),
		Source:     NormalizeSource(pickString(raw, sourceKeys)),
		Stage:      NormalizeStage(pickString(raw, stageKeys)),
		Timestamp:  parseTime(pick(raw, timestampKeys)),
		Operator:   pickString(raw, operatorKeys),
		Result:     pickString(raw, resultKeys),
		CycleID:    pickString(raw, cycleKeys),
		BatchID:    pickString(raw, batchKeys),
		MaterialID: pickString(raw, materialKeys),
		TxID:       pickString(raw, txKeys),
	}
}

// NormalizeAll maps a list of raw events and orders them by timestamp.
// Events with equal timestamps keep the backend order.
func NormalizeAll(raw []map[string]any) []models.HistoryEvent {
	out := make([]models.HistoryEvent, 0, len(raw))
	for _, r := range raw {
		out = append(out, Normalize(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// NormalizeSource returns LEDGER for "FABRIC" or "LEDGER" in any case, DB otherwise.
func NormalizeSource(v string) models.Source {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "FABRIC", "LEDGER":
		return models.SourceLedger
	default:
		return models.SourceDB
	}
}

// NormalizeStage matches v against the pipeline stages ignoring case and accents.
// Anything unrecognized is RECEBIMENTO.
func NormalizeStage(v string) models.Stage {
	if s, ok := stageAliases[foldStage(v)]; ok {
		return s
	}
	return models.StageRecebimento
}

// foldStage uppercases and strips combining marks, so "Desinfecção" becomes
// "DESINFECCAO".
func foldStage(v string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.TrimSpace(v)) {
		if r >= 0x300 && r <= 0x36f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func pick(raw map[string]any, keys []string) any {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		return v
	}
	return nil
}

func pickString(raw map[string]any, keys []string) string {
	switch v := pick(raw, keys).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return fromEpoch(n)
		}
	case float64:
		return fromEpoch(t)
	case json.Number:
		if n, err := t.Float64(); err == nil {
			return fromEpoch(n)
		}
	case int64:
		return fromEpoch(float64(t))
	case int:
		return fromEpoch(float64(t))
	}
	return time.Time{}
}

// fromEpoch treats values past 1e11 as milliseconds.
func fromEpoch(n float64) time.Time {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}
	}
	if n > 1e11 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
