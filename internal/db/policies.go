package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sterilization-gateway/internal/models"
)

const policySelect = `
	SELECT
		p.id, p.contact_point_id, p.severity, p.condition_type, p.status, p.created_at, p.updated_at,
		cp.id, cp.name, cp.type, cp.configuration, cp.status, cp.created_at, cp.updated_at
	FROM notification_policy p
	LEFT JOIN contact_points cp
	  ON p.contact_point_id = cp.id AND cp.status = 'active'
	WHERE p.status = 'active'`

// CreatePolicy inserts a notification policy record.
func (d *DB) CreatePolicy(ctx context.Context, p models.Policy) (models.Policy, error) {
	if p.ID == [16]byte{} {
		newID := uuid.New()
		copy(p.ID[:], newID[:])
	}
	if p.Status == "" {
		p.Status = "active"
	}

	query := `
	INSERT INTO notification_policy (
		id, contact_point_id, severity, condition_type, status, created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	RETURNING created_at, updated_at`

	err := d.Pool.QueryRow(ctx, query,
		uuid.UUID(p.ID),
		uuid.UUID(p.ContactPointID),
		p.Severity,
		p.ConditionType,
		p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Policy{}, fmt.Errorf("failed to create policy: %w", err)
	}
	return p, nil
}

// GetPolicyByID retrieves an active policy and its contact point (if active).
func (d *DB) GetPolicyByID(ctx context.Context, idStr string) (models.Policy, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return models.Policy{}, fmt.Errorf("invalid policy ID: %w", err)
	}

	p, err := scanPolicy(d.Pool.QueryRow(ctx, policySelect+" AND p.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Policy{}, fmt.Errorf("policy %s: %w", idStr, ErrNotFound)
	}
	if err != nil {
		return models.Policy{}, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// ListActivePolicies returns every active policy with its contact point.
func (d *DB) ListActivePolicies(ctx context.Context) ([]models.Policy, error) {
	rows, err := d.Pool.Query(ctx, policySelect+" ORDER BY p.created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	policies := []models.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpdatePolicy updates an existing active policy.
func (d *DB) UpdatePolicy(ctx context.Context, p models.Policy) error {
	id := uuid.UUID(p.ID)
	if id == uuid.Nil {
		return fmt.Errorf("invalid policy ID")
	}

	query := `
	UPDATE notification_policy
	SET contact_point_id = $1,
	    severity = $2,
	    condition_type = $3,
	    updated_at = NOW()
	WHERE id = $4 AND status = 'active'`

	tag, err := d.Pool.Exec(ctx, query,
		uuid.UUID(p.ContactPointID),
		p.Severity,
		p.ConditionType,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeletePolicy marks a policy inactive (soft delete) by its UUID string.
func (d *DB) DeletePolicy(ctx context.Context, idStr string) error {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid policy ID: %w", err)
	}

	query := `
	UPDATE notification_policy
	SET status = 'inactive', updated_at = NOW()
	WHERE id = $1 AND status = 'active'`
	tag, err := d.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policy %s: %w", idStr, ErrNotFound)
	}
	return nil
}

func scanPolicy(row pgx.Row) (models.Policy, error) {
	var p models.Policy
	var id, contactID uuid.UUID
	var cpID, cpName, cpType, cpStatus sql.NullString
	var cpCreated, cpUpdated sql.NullTime
	var cpConfig map[string]interface{}

	err := row.Scan(
		&id,
		&contactID,
		&p.Severity,
		&p.ConditionType,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
		&cpID,
		&cpName,
		&cpType,
		&cpConfig,
		&cpStatus,
		&cpCreated,
		&cpUpdated,
	)
	if err != nil {
		return models.Policy{}, err
	}
	copy(p.ID[:], id[:])
	copy(p.ContactPointID[:], contactID[:])

	// Populate nested ContactPoint only if present
	if cpID.Valid {
		uid, _ := uuid.Parse(cpID.String)
		cp := models.ContactPoint{
			Name:          cpName.String,
			Type:          cpType.String,
			Configuration: cpConfig,
			Status:        cpStatus.String,
			CreatedAt:     cpCreated.Time,
			UpdatedAt:     cpUpdated.Time,
		}
		copy(cp.ID[:], uid[:])
		p.ContactPoint = &cp
	}
	return p, nil
}
