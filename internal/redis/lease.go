package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeaseTTL bounds how long a dispatch claim survives if its holder dies
// mid-flight. It must exceed the dispatcher's worst-case fan-out time so a
// live dispatch is never stolen, and stay short enough that a crashed one
// does not block the intent from the next sweep.
const LeaseTTL = 30 * time.Second

// DispatchLease is a short-lived per-intent claim backed by SET NX. It is a
// hardening layer on top of the dispatcher's idempotence guards: without it
// a racing sweep and an interactive send may both fan out (duplicate pushes,
// no corruption); with it only one of them proceeds.
type DispatchLease struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDispatchLease creates a lease service with the default TTL.
func NewDispatchLease(client *Client, logger *zap.Logger) *DispatchLease {
	return &DispatchLease{
		client: client,
		logger: logger,
		ttl:    LeaseTTL,
	}
}

func (l *DispatchLease) key(intentID uuid.UUID) string {
	return fmt.Sprintf("dispatch:%s", intentID)
}

// Acquire atomically claims an intent for one dispatch pass. Returns false
// when another dispatch currently holds the claim.
func (l *DispatchLease) Acquire(ctx context.Context, intentID uuid.UUID) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key(intentID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("intent already claimed",
			zap.String("intent_id", intentID.String()),
		)
	}
	return ok, nil
}

// Release drops the claim so the intent becomes eligible again without
// waiting for the TTL. Safe to call after expiry.
func (l *DispatchLease) Release(ctx context.Context, intentID uuid.UUID) error {
	if err := l.client.rdb.Del(ctx, l.key(intentID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
