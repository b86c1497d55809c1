package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification records one dispatch of an escalation through a policy.
type Notification struct {
	ID             [16]byte   `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CycleID        string     `json:"cycle_id"`
	Severity       Severity   `json:"severity"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	PolicyID       [16]byte   `json:"policy_id"`
	DeliveryMethod string     `json:"delivery_method"`
	Status         string     `json:"status"` // pending, success, failed
	RequestID      [16]byte   `json:"request_id"`
	Error          string     `json:"error,omitempty"`
}

// MarshalJSON returns UUIDs as strings.
func (n Notification) MarshalJSON() ([]byte, error) {
	type Alias Notification
	return json.Marshal(&struct {
		ID        string `json:"id"`
		PolicyID  string `json:"policy_id"`
		RequestID string `json:"request_id"`
		*Alias
	}{
		ID:        uuid.UUID(n.ID).String(),
		PolicyID:  uuid.UUID(n.PolicyID).String(),
		RequestID: uuid.UUID(n.RequestID).String(),
		Alias:     (*Alias)(&n),
	})
}
