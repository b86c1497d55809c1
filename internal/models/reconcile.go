package models

import "time"

type DiffKind string

const (
	DiffMissingDB     DiffKind = "missing-db"
	DiffMissingLedger DiffKind = "missing-ledger"
	DiffMismatch      DiffKind = "mismatch"
)

type PolicyStatus string

const (
	PolicyOK       PolicyStatus = "ok"
	PolicyNear     PolicyStatus = "near"
	PolicyExceeded PolicyStatus = "exceeded"
)

// ReconcileSummary counts how the DB and ledger records line up.
type ReconcileSummary struct {
	DB            int `json:"db"`
	Ledger        int `json:"ledger"`
	Matched       int `json:"matched"`
	MissingDB     int `json:"missingDb"`
	MissingLedger int `json:"missingLedger"`
	Mismatch      int `json:"mismatch"`
}

type DiffEntry struct {
	Index  int           `json:"index"`
	Kind   DiffKind      `json:"kind"`
	DB     *HistoryEvent `json:"db,omitempty"`
	Ledger *HistoryEvent `json:"ledger,omitempty"`
	Fields []string      `json:"fields,omitempty"`
}

type ReprocessPolicy struct {
	Status         PolicyStatus `json:"status"`
	ReprocessCount int          `json:"reprocessCount"`
	Limit          int          `json:"limit"`
}

// ReconcileResult is computed by the backend; the gateway only relays it.
type ReconcileResult struct {
	TargetType string           `json:"targetType"` // material or batch
	TargetID   string           `json:"targetId"`
	Summary    ReconcileSummary `json:"summary"`
	Diffs      []DiffEntry      `json:"diffs"`
	Policy     ReprocessPolicy  `json:"policy"`
}

// InSync reports whether the backend found nothing to apply.
func (r ReconcileResult) InSync() bool {
	return r.Summary.MissingDB == 0 && r.Summary.MissingLedger == 0 && r.Summary.Mismatch == 0
}

type ApplyResult struct {
	TargetID  string    `json:"targetId"`
	Applied   int       `json:"applied"`
	AppliedAt time.Time `json:"appliedAt"`
}

// MetricsOverview feeds the dashboard header cards.
type MetricsOverview struct {
	Materials        int              `json:"materials"`
	ActiveMaterials  int              `json:"activeMaterials"`
	Batches          int              `json:"batches"`
	CyclesToday      int              `json:"cyclesToday"`
	FailureRate      float64          `json:"failureRate"`
	OpenAlerts       map[Severity]int `json:"openAlerts"`
	CyclesByStage    map[Stage]int    `json:"cyclesByStage"`
	LedgerSyncedRate float64          `json:"ledgerSyncedRate,omitempty"`
}
