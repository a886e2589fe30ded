package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateDelivery inserts a pending delivery record for one
// (intent, device) attempt.
func (r *Repository) CreateDelivery(ctx context.Context, delivery *NotificationDelivery) error {
	query := `
		INSERT INTO notification_deliveries (id, intent_id, device_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		delivery.ID,
		delivery.IntentID,
		delivery.DeviceID,
		delivery.Status,
	).Scan(&delivery.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create delivery record",
			zap.Error(err),
			zap.String("intent_id", delivery.IntentID.String()),
			zap.String("device_id", delivery.DeviceID.String()),
		)
		return fmt.Errorf("insert delivery: %w", err)
	}

	return nil
}

// MarkDeliverySent transitions a pending delivery record to sent. Records
// are immutable after this; a later retry creates a new record instead.
func (r *Repository) MarkDeliverySent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notification_deliveries
		SET status = $2, sent_at = $3
		WHERE id = $1 AND status = $4
	`

	if _, err := r.db.Pool().Exec(ctx, query, id, DeliverySent, at, DeliveryPending); err != nil {
		return fmt.Errorf("mark delivery sent: %w", err)
	}
	return nil
}

// MarkDeliveryFailed transitions a pending delivery record to failed,
// capturing the gateway error detail.
func (r *Repository) MarkDeliveryFailed(ctx context.Context, id uuid.UUID, detail string) error {
	query := `
		UPDATE notification_deliveries
		SET status = $2, error = $3
		WHERE id = $1 AND status = $4
	`

	if _, err := r.db.Pool().Exec(ctx, query, id, DeliveryFailed, detail, DeliveryPending); err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

// ListDeliveriesByIntent returns every delivery attempt recorded for an
// intent, oldest first. Old failed records are history, never reused.
func (r *Repository) ListDeliveriesByIntent(ctx context.Context, intentID uuid.UUID) ([]*NotificationDelivery, error) {
	query := `
		SELECT id, intent_id, device_id, status, sent_at, delivered_at, error, created_at
		FROM notification_deliveries
		WHERE intent_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, intentID)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*NotificationDelivery
	for rows.Next() {
		var d NotificationDelivery
		err := rows.Scan(
			&d.ID,
			&d.IntentID,
			&d.DeviceID,
			&d.Status,
			&d.SentAt,
			&d.DeliveredAt,
			&d.Error,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return deliveries, nil
}
