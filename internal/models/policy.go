package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Policy routes escalated alerts whose severity satisfies ConditionType/Severity
// to a contact point.
type Policy struct {
	ID             [16]byte      `json:"id"`
	ContactPointID [16]byte      `json:"contact_point_id"`
	Severity       Severity      `json:"severity"`
	ConditionType  string        `json:"condition_type"` // EQ, NEQ, GT, GTE, LT, LTE
	Status         string        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ContactPoint   *ContactPoint `json:"contact_point,omitempty"` // Added for response, not stored in DB
}

// PolicyCreate represents the input structure for creating a new policy.
type PolicyCreate struct {
	ContactPointID string   `json:"contact_point_id" binding:"required,uuid"`
	Severity       Severity `json:"severity" binding:"required,oneof=INFO WARNING CRITICAL"`
	ConditionType  string   `json:"condition_type" binding:"required,oneof=EQ NEQ GT GTE LT LTE"`
}

func (p Policy) MarshalJSON() ([]byte, error) {
	type Alias Policy
	return json.Marshal(&struct {
		ID             string `json:"id"`
		ContactPointID string `json:"contact_point_id"`
		*Alias
	}{
		ID:             uuid.UUID(p.ID).String(),
		ContactPointID: uuid.UUID(p.ContactPointID).String(),
		Alias:          (*Alias)(&p),
	})
}

// UnmarshalJSON converts string IDs to [16]byte.
func (p *Policy) UnmarshalJSON(data []byte) error {
	type Alias Policy
	aux := &struct {
		ID             string `json:"id"`
		ContactPointID string `json:"contact_point_id"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ID != "" {
		parsedID, err := uuid.Parse(aux.ID)
		if err != nil {
			return fmt.Errorf("invalid UUID format for ID: %w", err)
		}
		copy(p.ID[:], parsedID[:])
	}
	if aux.ContactPointID != "" {
		parsedContactPointID, err := uuid.Parse(aux.ContactPointID)
		if err != nil {
			return fmt.Errorf("invalid UUID format for ContactPointID: %w", err)
		}
		copy(p.ContactPointID[:], parsedContactPointID[:])
	}
	return nil
}
