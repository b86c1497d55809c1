package models

import "time"

// Task is an escalation queued for the notification workers: a cycle whose
// aggregated open-alert severity rose since the previous poll.
type Task struct {
	RequestID string
	CycleID   string
	Severity  Severity
	Previous  Severity
	Alerts    []Alert
	Timestamp time.Time
}

// AuditEntry is an operator action performed through the gateway.
type AuditEntry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	TargetID  string         `json:"target_id"`
	Actor     string         `json:"actor"`
	RequestID string         `json:"request_id"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

const (
	ActionAlertAck       = "alert.ack"
	ActionAlertResolve   = "alert.resolve"
	ActionReconcileApply = "reconcile.apply"
	ActionMaterialCreate = "material.create"
	ActionMaterialUpdate = "material.update"
	ActionMaterialDelete = "material.delete"
)
