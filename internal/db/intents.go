package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreateIntent inserts a new notification intent into the ledger.
func (r *Repository) CreateIntent(ctx context.Context, intent *NotificationIntent) error {
	query := `
		INSERT INTO notification_intents (
			id, user_id, category, title, message, data, scheduled_for
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		intent.ID,
		intent.UserID,
		intent.Category,
		intent.Title,
		intent.Message,
		intent.Data,
		intent.ScheduledFor,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create intent",
			zap.Error(err),
			zap.String("intent_id", intent.ID.String()),
		)
		return fmt.Errorf("insert intent: %w", err)
	}

	r.logger.Info("intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("user_id", intent.UserID.String()),
		zap.String("category", intent.Category),
	)

	return nil
}

// CreateDailyUniqueIntent inserts an intent only if no intent with the same
// (user, category, title) was created on the same calendar day. Returns true
// when a row was inserted. This is the dedupe mechanism behind the recurring
// producers: a daily reminder must not fire twice even though the sweep runs
// repeatedly.
func (r *Repository) CreateDailyUniqueIntent(ctx context.Context, intent *NotificationIntent) (bool, error) {
	query := `
		INSERT INTO notification_intents (
			id, user_id, category, title, message, data, scheduled_for
		)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM notification_intents
			WHERE user_id = $2
			  AND category = $3
			  AND title = $4
			  AND created_at >= date_trunc('day', $7::timestamptz)
			  AND created_at < date_trunc('day', $7::timestamptz) + interval '1 day'
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		intent.ID,
		intent.UserID,
		intent.Category,
		intent.Title,
		intent.Message,
		intent.Data,
		intent.ScheduledFor,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Same-day duplicate, nothing inserted.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert daily-unique intent: %w", err)
	}

	r.logger.Info("daily intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("category", intent.Category),
		zap.String("title", intent.Title),
	)

	return true, nil
}

const intentColumns = `
	id, user_id, category, title, message, data, is_read,
	scheduled_for, sent_at, created_at, updated_at
`

func scanIntent(row pgx.Row) (*NotificationIntent, error) {
	var intent NotificationIntent
	err := row.Scan(
		&intent.ID,
		&intent.UserID,
		&intent.Category,
		&intent.Title,
		&intent.Message,
		&intent.Data,
		&intent.IsRead,
		&intent.ScheduledFor,
		&intent.SentAt,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetIntent retrieves an intent by ID. Returns ErrNotFound when the intent
// does not exist (or was deleted between selection and processing).
func (r *Repository) GetIntent(ctx context.Context, id uuid.UUID) (*NotificationIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM notification_intents WHERE id = $1`

	intent, err := scanIntent(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query intent: %w", err)
	}
	return intent, nil
}

// ListDueIntents returns intents whose scheduled time has passed and which
// have never been sent. These are the sweep's work items.
func (r *Repository) ListDueIntents(ctx context.Context, now time.Time, limit int) ([]*NotificationIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM notification_intents
		WHERE scheduled_for <= $1 AND sent_at IS NULL
		ORDER BY scheduled_for ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due intents: %w", err)
	}
	defer rows.Close()

	var intents []*NotificationIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return intents, nil
}

// ListIntentsByUser retrieves a user's notifications, newest first, with the
// total count for pagination.
func (r *Repository) ListIntentsByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*NotificationIntent, int, error) {
	countQuery := `SELECT COUNT(*) FROM notification_intents WHERE user_id = $1 AND ($2 = false OR is_read = false)`

	var total int
	if err := r.db.Pool().QueryRow(ctx, countQuery, userID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count intents: %w", err)
	}

	query := `
		SELECT ` + intentColumns + `
		FROM notification_intents
		WHERE user_id = $1 AND ($2 = false OR is_read = false)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	var intents []*NotificationIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	return intents, total, nil
}

// MarkIntentSent stamps sent_at on an intent, but only if it is still unset.
// Returns true when this call performed the transition. Safe to call from
// concurrent dispatches; the guard makes sent-marking idempotent.
func (r *Repository) MarkIntentSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE notification_intents
		SET sent_at = $2
		WHERE id = $1 AND sent_at IS NULL
	`

	result, err := r.db.Pool().Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark intent sent: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkIntentRead flags a notification as read by its owner. Returns
// ErrNotFound when the intent does not belong to the user.
func (r *Repository) MarkIntentRead(ctx context.Context, userID, id uuid.UUID) error {
	query := `UPDATE notification_intents SET is_read = true WHERE id = $1 AND user_id = $2`

	result, err := r.db.Pool().Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("mark intent read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllIntentsRead flags every unread notification for a user and returns
// how many rows changed.
func (r *Repository) MarkAllIntentsRead(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `UPDATE notification_intents SET is_read = true WHERE user_id = $1 AND is_read = false`

	result, err := r.db.Pool().Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all intents read: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// DeleteIntent removes an intent owned by the user. Delivery records cascade
// with it. An unsent intent deleted here is effectively cancelled.
func (r *Repository) DeleteIntent(ctx context.Context, userID, id uuid.UUID) error {
	query := `DELETE FROM notification_intents WHERE id = $1 AND user_id = $2`

	result, err := r.db.Pool().Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete intent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("intent deleted",
		zap.String("intent_id", id.String()),
		zap.String("user_id", userID.String()),
	)
	return nil
}
