package models

import "time"

// Material is a reusable medical item tracked through reprocessing.
type Material struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Code           string    `json:"code"`
	Active         bool      `json:"active"`
	ReprocessCount int       `json:"reprocessCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// MaterialInput is the body of material create and update calls.
type MaterialInput struct {
	Name   string `json:"name" binding:"required"`
	Code   string `json:"code" binding:"required"`
	Active *bool  `json:"active,omitempty"`
}

// MaterialQuery filters GET /materials.
type MaterialQuery struct {
	Search string
	Active *bool
}

// Batch ("lote") groups materials processed together.
type Batch struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Status      string    `json:"status"`
	MaterialIDs []string  `json:"materialIds"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Cycle is one pass of a material (or batch) through a pipeline stage.
type Cycle struct {
	ID         string     `json:"id"`
	MaterialID string     `json:"materialId,omitempty"`
	BatchID    string     `json:"batchId,omitempty"`
	Stage      Stage      `json:"stage"`
	Status     string     `json:"status"`
	Operator   string     `json:"operator,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// CycleQuery filters GET /cycles.
type CycleQuery struct {
	MaterialID string
	BatchID    string
	Stage      Stage
}

// Session is returned by POST /auth/login.
type Session struct {
	Token     string    `json:"token"`
	User      string    `json:"user"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// SearchResult resolves a scanned or typed code to an entity.
type SearchResult struct {
	Type string `json:"type"` // material, batch or cycle
	ID   string `json:"id"`
}
