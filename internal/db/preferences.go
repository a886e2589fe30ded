package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const preferenceColumns = `
	id, user_id, category, enabled, send_mobile, send_watch,
	quiet_hours_start, quiet_hours_end, created_at, updated_at
`

func scanPreference(row pgx.Row) (*NotificationPreference, error) {
	var pref NotificationPreference
	err := row.Scan(
		&pref.ID,
		&pref.UserID,
		&pref.Category,
		&pref.Enabled,
		&pref.SendMobile,
		&pref.SendWatch,
		&pref.QuietHoursStart,
		&pref.QuietHoursEnd,
		&pref.CreatedAt,
		&pref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

// ResolvePreference returns the preference rule for a (user, category) pair.
// It never reports "not found": when no rule exists a permissive default
// (enabled, both device classes, no quiet hours) is inserted and returned,
// so later lookups and edits see a stable row. Concurrent first resolutions
// race safely on the unique (user_id, category) constraint.
func (r *Repository) ResolvePreference(ctx context.Context, userID uuid.UUID, category string) (*NotificationPreference, error) {
	query := `
		INSERT INTO notification_preferences (id, user_id, category, enabled, send_mobile, send_watch)
		VALUES ($1, $2, $3, true, true, true)
		ON CONFLICT (user_id, category) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + preferenceColumns

	pref, err := scanPreference(r.db.Pool().QueryRow(ctx, query, uuid.New(), userID, category))
	if err != nil {
		r.logger.Error("failed to resolve preference",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("category", category),
		)
		return nil, fmt.Errorf("resolve preference: %w", err)
	}

	return pref, nil
}

// PreferenceUpdate carries a partial update; nil fields keep prior values.
type PreferenceUpdate struct {
	Enabled         *bool
	SendMobile      *bool
	SendWatch       *bool
	QuietHoursStart *string
	QuietHoursEnd   *string
}

// UpsertPreference creates or partially updates the rule for a
// (user, category) pair. Unspecified fields retain their prior values (or
// the permissive defaults on first write).
func (r *Repository) UpsertPreference(ctx context.Context, userID uuid.UUID, category string, upd PreferenceUpdate) (*NotificationPreference, error) {
	query := `
		INSERT INTO notification_preferences (
			id, user_id, category, enabled, send_mobile, send_watch,
			quiet_hours_start, quiet_hours_end
		) VALUES (
			$1, $2, $3,
			COALESCE($4, true), COALESCE($5, true), COALESCE($6, true),
			$7, $8
		)
		ON CONFLICT (user_id, category) DO UPDATE SET
			enabled           = COALESCE($4, notification_preferences.enabled),
			send_mobile       = COALESCE($5, notification_preferences.send_mobile),
			send_watch        = COALESCE($6, notification_preferences.send_watch),
			quiet_hours_start = COALESCE($7, notification_preferences.quiet_hours_start),
			quiet_hours_end   = COALESCE($8, notification_preferences.quiet_hours_end),
			updated_at        = NOW()
		RETURNING ` + preferenceColumns

	pref, err := scanPreference(r.db.Pool().QueryRow(
		ctx,
		query,
		uuid.New(),
		userID,
		category,
		upd.Enabled,
		upd.SendMobile,
		upd.SendWatch,
		upd.QuietHoursStart,
		upd.QuietHoursEnd,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert preference: %w", err)
	}

	r.logger.Info("preference saved",
		zap.String("user_id", userID.String()),
		zap.String("category", category),
		zap.Bool("enabled", pref.Enabled),
	)

	return pref, nil
}

// ListPreferences returns every preference rule a user has.
func (r *Repository) ListPreferences(ctx context.Context, userID uuid.UUID) ([]*NotificationPreference, error) {
	query := `
		SELECT ` + preferenceColumns + `
		FROM notification_preferences
		WHERE user_id = $1
		ORDER BY category ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*NotificationPreference
	for rows.Next() {
		pref, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return prefs, nil
}

// GetPreference returns the rule for a pair without synthesizing a default.
func (r *Repository) GetPreference(ctx context.Context, userID uuid.UUID, category string) (*NotificationPreference, error) {
	query := `
		SELECT ` + preferenceColumns + `
		FROM notification_preferences
		WHERE user_id = $1 AND category = $2
	`

	pref, err := scanPreference(r.db.Pool().QueryRow(ctx, query, userID, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preference: %w", err)
	}
	return pref, nil
}
