package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContactPoint is a destination for critical-alert notifications.
// Configuration holds provider settings, e.g. {"chat_id": 123} or {"email": "a@b"}.
type ContactPoint struct {
	ID            [16]byte               `json:"id"`
	Name          string                 `json:"name"`
	Type          string                 `json:"type"` // telegram or email
	Configuration map[string]interface{} `json:"configuration"`
	Status        string                 `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type ContactPointCreate struct {
	Name          string                 `json:"name" binding:"required"`
	Type          string                 `json:"type" binding:"required,oneof=telegram email"`
	Configuration map[string]interface{} `json:"configuration" binding:"required"`
}

func (cp ContactPoint) MarshalJSON() ([]byte, error) {
	type Alias ContactPoint
	return json.Marshal(&struct {
		ID string `json:"id"`
		*Alias
	}{
		ID:    uuid.UUID(cp.ID).String(),
		Alias: (*Alias)(&cp),
	})
}

func (cp *ContactPoint) UnmarshalJSON(data []byte) error {
	type Alias ContactPoint
	aux := &struct {
		ID string `json:"id"`
		*Alias
	}{
		Alias: (*Alias)(cp),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ID != "" {
		parsedID, err := uuid.Parse(aux.ID)
		if err != nil {
			return fmt.Errorf("invalid UUID format for ID: %w", err)
		}
		copy(cp.ID[:], parsedID[:])
	}
	return nil
}
