package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"sterilization-gateway/internal/models"
)

func (d *DB) CreateNotification(ctx context.Context, n models.Notification) error {
	query := `
        INSERT INTO notifications (
            id, created_at, cycle_id, severity, subject, body, policy_id,
            delivery_method, status, request_id, last_error
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := d.Pool.Exec(ctx, query,
		uuid.UUID(n.ID), n.CreatedAt, n.CycleID, n.Severity, n.Subject, n.Body,
		uuid.UUID(n.PolicyID), n.DeliveryMethod, n.Status, uuid.UUID(n.RequestID), n.Error)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// UpdateNotificationStatus sets the outcome of one delivery. sent_at is stamped
// when the status becomes success.
func (d *DB) UpdateNotificationStatus(ctx context.Context, id [16]byte, status, lastError string) error {
	query := `
        UPDATE notifications
        SET status = $1, last_error = $2,
            sent_at = CASE WHEN $1 = 'success' THEN $3 ELSE sent_at END
        WHERE id = $4`
	result, err := d.Pool.Exec(ctx, query, status, lastError, time.Now(), uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no notification updated for id %s", uuid.UUID(id))
	}
	return nil
}

// ListNotifications pages through delivery records, newest first, optionally
// for one cycle.
func (d *DB) ListNotifications(ctx context.Context, cycleID string, limit, offset int) ([]models.Notification, error) {
	query := `
        SELECT id, created_at, sent_at, cycle_id, severity, subject, body, policy_id,
               delivery_method, status, request_id, last_error
        FROM notifications`
	args := []interface{}{}
	if cycleID != "" {
		query += " WHERE cycle_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3"
		args = append(args, cycleID, limit, offset)
	} else {
		query += " ORDER BY created_at DESC LIMIT $1 OFFSET $2"
		args = append(args, limit, offset)
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var id, policyID, reqID pgtype.UUID
		err := rows.Scan(
			&id, &n.CreatedAt, &n.SentAt, &n.CycleID, &n.Severity, &n.Subject, &n.Body,
			&policyID, &n.DeliveryMethod, &n.Status, &reqID, &n.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.ID = id.Bytes
		n.PolicyID = policyID.Bytes
		n.RequestID = reqID.Bytes
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
