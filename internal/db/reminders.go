package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateReminder inserts a recurring reminder row.
func (r *Repository) CreateReminder(ctx context.Context, rem *Reminder) error {
	query := `
		INSERT INTO reminders (id, user_id, reminder_type, title, description, remind_at, days, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		rem.ID,
		rem.UserID,
		rem.ReminderType,
		rem.Title,
		rem.Description,
		rem.RemindAt,
		rem.Days,
		rem.IsActive,
	).Scan(&rem.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}

	r.logger.Info("reminder created",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("user_id", rem.UserID.String()),
		zap.String("reminder_type", rem.ReminderType),
	)

	return nil
}

// ListActiveReminders returns every active reminder of a type across all
// users. The meal producer walks these once per sweep cycle.
func (r *Repository) ListActiveReminders(ctx context.Context, reminderType string) ([]*Reminder, error) {
	query := `
		SELECT id, user_id, reminder_type, title, description, remind_at, days, is_active, created_at
		FROM reminders
		WHERE reminder_type = $1 AND is_active = true
	`

	rows, err := r.db.Pool().Query(ctx, query, reminderType)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		var rem Reminder
		err := rows.Scan(
			&rem.ID,
			&rem.UserID,
			&rem.ReminderType,
			&rem.Title,
			&rem.Description,
			&rem.RemindAt,
			&rem.Days,
			&rem.IsActive,
			&rem.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, &rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return reminders, nil
}

// ListRemindersByUser returns all of a user's reminders.
func (r *Repository) ListRemindersByUser(ctx context.Context, userID uuid.UUID) ([]*Reminder, error) {
	query := `
		SELECT id, user_id, reminder_type, title, description, remind_at, days, is_active, created_at
		FROM reminders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		var rem Reminder
		err := rows.Scan(
			&rem.ID,
			&rem.UserID,
			&rem.ReminderType,
			&rem.Title,
			&rem.Description,
			&rem.RemindAt,
			&rem.Days,
			&rem.IsActive,
			&rem.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, &rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return reminders, nil
}

// DeleteReminder removes a reminder owned by the user.
func (r *Repository) DeleteReminder(ctx context.Context, userID, id uuid.UUID) error {
	query := `DELETE FROM reminders WHERE id = $1 AND user_id = $2`

	result, err := r.db.Pool().Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
