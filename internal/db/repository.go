package db

import (
	"errors"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a row does not exist. The dispatcher relies
// on it to treat an intent cancelled mid-flight as a no-op.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for the notification core. Methods
// are grouped by concern across intents.go, preferences.go, devices.go,
// deliveries.go and reminders.go.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}
