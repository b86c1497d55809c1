package models

import "time"

type AlertKind string

const (
	AlertStageFailed         AlertKind = "STAGE_FAILED"
	AlertSterilizationFailed AlertKind = "STERILIZATION_FAILED"
	AlertExpired             AlertKind = "EXPIRED"
	AlertReprocessLimit      AlertKind = "REPROCESS_LIMIT"
	AlertLedgerMismatch      AlertKind = "LEDGER_MISMATCH"
	AlertStageOutOfOrder     AlertKind = "STAGE_OUT_OF_ORDER"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities: CRITICAL > WARNING > INFO > anything else (0).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

type AlertStatus string

const (
	AlertOpen     AlertStatus = "OPEN"
	AlertAcked    AlertStatus = "ACKED"
	AlertResolved AlertStatus = "RESOLVED"
)

// Alert is raised server-side when a stage fails or deviates from policy.
// Status changes only through the ack and resolve endpoints.
type Alert struct {
	ID         string      `json:"id"`
	Kind       AlertKind   `json:"kind"`
	Severity   Severity    `json:"severity"`
	Status     AlertStatus `json:"status"`
	CycleID    string      `json:"cycleId,omitempty"`
	MaterialID string      `json:"materialId,omitempty"`
	Stage      Stage       `json:"stage,omitempty"`
	Message    string      `json:"message,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	AckedAt    *time.Time  `json:"ackedAt,omitempty"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
}

// AlertFilter narrows GET /alerts.
type AlertFilter struct {
	Status   AlertStatus
	Severity Severity
	CycleID  string
}
