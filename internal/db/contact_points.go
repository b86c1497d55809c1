package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"sterilization-gateway/internal/models"
)

// ErrNotFound is returned when a row does not exist or is no longer active.
var ErrNotFound = errors.New("not found")

// CreateContactPoint inserts a new active contact point.
func (d *DB) CreateContactPoint(ctx context.Context, cp models.ContactPoint) (models.ContactPoint, error) {
	if cp.ID == [16]byte{} {
		newID := uuid.New()
		copy(cp.ID[:], newID[:])
	}
	if cp.Status == "" {
		cp.Status = "active"
	}

	query := `
	INSERT INTO contact_points (id, name, type, configuration, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	RETURNING created_at, updated_at`

	err := d.Pool.QueryRow(ctx, query,
		uuid.UUID(cp.ID),
		cp.Name,
		cp.Type,
		cp.Configuration, // bound as JSONB
		cp.Status,
	).Scan(&cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		return models.ContactPoint{}, fmt.Errorf("failed to create contact point: %w", err)
	}
	return cp, nil
}

// GetContactPointByID retrieves an active contact point by its UUID string.
func (d *DB) GetContactPointByID(ctx context.Context, idStr string) (models.ContactPoint, error) {
	idUUID, err := uuid.Parse(idStr)
	if err != nil {
		return models.ContactPoint{}, fmt.Errorf("invalid UUID format: %w", err)
	}

	query := `
	SELECT id, name, type, configuration, status, created_at, updated_at
	FROM contact_points
	WHERE id = $1 AND status = 'active'`

	cp, err := scanContactPoint(d.Pool.QueryRow(ctx, query, idUUID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContactPoint{}, fmt.Errorf("contact point %s: %w", idStr, ErrNotFound)
	}
	if err != nil {
		return models.ContactPoint{}, fmt.Errorf("failed to get contact point: %w", err)
	}
	return cp, nil
}

func (d *DB) ListContactPoints(ctx context.Context) ([]models.ContactPoint, error) {
	query := `
	SELECT id, name, type, configuration, status, created_at, updated_at
	FROM contact_points
	WHERE status = 'active'
	ORDER BY created_at`

	rows, err := d.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact points: %w", err)
	}
	defer rows.Close()

	cps := []models.ContactPoint{}
	for rows.Next() {
		cp, err := scanContactPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact point: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// UpdateContactPoint updates fields of an existing active contact point.
func (d *DB) UpdateContactPoint(ctx context.Context, cp models.ContactPoint) error {
	id := uuid.UUID(cp.ID)
	if id == uuid.Nil {
		return fmt.Errorf("invalid contact point ID")
	}

	query := `
	UPDATE contact_points
	SET name = $1,
	    type = $2,
	    configuration = $3,
	    updated_at = NOW()
	WHERE id = $4 AND status = 'active'`

	tag, err := d.Pool.Exec(ctx, query, cp.Name, cp.Type, cp.Configuration, id)
	if err != nil {
		return fmt.Errorf("failed to update contact point: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact point %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteContactPoint performs a soft-delete by marking status and updating timestamp.
func (d *DB) DeleteContactPoint(ctx context.Context, idStr string) error {
	idUUID, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid UUID format: %w", err)
	}

	query := `
	UPDATE contact_points
	SET status = 'deleted', updated_at = NOW()
	WHERE id = $1 AND status = 'active'`
	tag, err := d.Pool.Exec(ctx, query, idUUID)
	if err != nil {
		return fmt.Errorf("failed to delete contact point: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact point %s: %w", idStr, ErrNotFound)
	}
	return nil
}

func scanContactPoint(row pgx.Row) (models.ContactPoint, error) {
	var cp models.ContactPoint
	var id uuid.UUID
	err := row.Scan(
		&id,
		&cp.Name,
		&cp.Type,
		&cp.Configuration,
		&cp.Status,
		&cp.CreatedAt,
		&cp.UpdatedAt,
	)
	if err != nil {
		return models.ContactPoint{}, err
	}
	copy(cp.ID[:], id[:])
	return cp, nil
}
