package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sterilization-gateway/internal/models"
)

// InsertAudit records an operator action. ID and CreatedAt are filled when empty.
func (d *DB) InsertAudit(ctx context.Context, e models.AuditEntry) (models.AuditEntry, error) {
	id := uuid.New()
	if e.ID != "" {
		parsed, err := uuid.Parse(e.ID)
		if err != nil {
			return models.AuditEntry{}, fmt.Errorf("invalid audit id: %w", err)
		}
		id = parsed
	}
	e.ID = id.String()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO audit_log (id, action, target_id, actor, request_id, detail, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at`

	err := d.Pool.QueryRow(ctx, query,
		id,
		e.Action,
		e.TargetID,
		e.Actor,
		e.RequestID,
		e.Detail, // bound as JSONB
		e.CreatedAt,
	).Scan(&e.CreatedAt)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return e, nil
}

// ListAudit returns the most recent entries, optionally for one target.
func (d *DB) ListAudit(ctx context.Context, targetID string, limit, offset int) ([]models.AuditEntry, error) {
	query := `
	SELECT id::text, action, target_id, actor, request_id, detail, created_at
	FROM audit_log`
	args := []interface{}{}
	if targetID != "" {
		query += " WHERE target_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3"
		args = append(args, targetID, limit, offset)
	} else {
		query += " ORDER BY created_at DESC LIMIT $1 OFFSET $2"
		args = append(args, limit, offset)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	list := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.TargetID, &e.Actor, &e.RequestID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return list, nil
}
