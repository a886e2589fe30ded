package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const deviceColumns = `
	id, user_id, device_type, token, is_active, created_at, last_used
`

func scanDevice(row pgx.Row) (*DeviceToken, error) {
	var dev DeviceToken
	err := row.Scan(
		&dev.ID,
		&dev.UserID,
		&dev.DeviceType,
		&dev.Token,
		&dev.IsActive,
		&dev.CreatedAt,
		&dev.LastUsed,
	)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

// RegisterDevice upserts a delivery endpoint keyed by its globally-unique
// token. Re-registering an existing token reassigns it to the calling user,
// updates its class, reactivates it and refreshes last_used (last writer
// wins). Registration is idempotent.
func (r *Repository) RegisterDevice(ctx context.Context, userID uuid.UUID, deviceType, token string) (*DeviceToken, error) {
	query := `
		INSERT INTO device_tokens (id, user_id, device_type, token, is_active, last_used)
		VALUES ($1, $2, $3, $4, true, NOW())
		ON CONFLICT (token) DO UPDATE SET
			user_id     = EXCLUDED.user_id,
			device_type = EXCLUDED.device_type,
			is_active   = true,
			last_used   = NOW()
		RETURNING ` + deviceColumns

	dev, err := scanDevice(r.db.Pool().QueryRow(ctx, query, uuid.New(), userID, deviceType, token))
	if err != nil {
		r.logger.Error("failed to register device",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("device_type", deviceType),
		)
		return nil, fmt.Errorf("register device: %w", err)
	}

	r.logger.Info("device registered",
		zap.String("device_id", dev.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("device_type", deviceType),
	)

	return dev, nil
}

// DeactivateDevice soft-deletes a token for a user. A token that does not
// belong to the user, or is already inactive, is a silent no-op — never an
// error — so clients can unregister blindly.
func (r *Repository) DeactivateDevice(ctx context.Context, userID uuid.UUID, token string) error {
	query := `
		UPDATE device_tokens
		SET is_active = false
		WHERE token = $1 AND user_id = $2 AND is_active = true
	`

	result, err := r.db.Pool().Exec(ctx, query, token, userID)
	if err != nil {
		return fmt.Errorf("deactivate device: %w", err)
	}

	if result.RowsAffected() > 0 {
		r.logger.Info("device deactivated",
			zap.String("user_id", userID.String()),
		)
	}
	return nil
}

// ActiveDevices returns the active registrations for a user whose class is
// in the allowed set. Callers must not depend on ordering.
func (r *Repository) ActiveDevices(ctx context.Context, userID uuid.UUID, deviceTypes []string) ([]*DeviceToken, error) {
	if len(deviceTypes) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM device_tokens
		WHERE user_id = $1 AND is_active = true AND device_type = ANY($2)
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, deviceTypes)
	if err != nil {
		return nil, fmt.Errorf("query active devices: %w", err)
	}
	defer rows.Close()

	var devices []*DeviceToken
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return devices, nil
}

// TouchDevice refreshes a device's last_used timestamp after a successful
// delivery.
func (r *Repository) TouchDevice(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE device_tokens SET last_used = $2 WHERE id = $1`

	if _, err := r.db.Pool().Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}
