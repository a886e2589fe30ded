// Package scheduler owns the periodic sweep over due-but-undelivered
// intents and the idempotent producers for recurring notification
// categories. The sweep is the system's only retry path: an intent that was
// suppressed or whose sends all failed simply stays pending and is
// reconsidered on the next pass.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Sohel123-png/fitgent-2.0/internal/db"
	"github.com/Sohel123-png/fitgent-2.0/internal/dispatch"
	"github.com/Sohel123-png/fitgent-2.0/internal/metrics"
)

// Dispatcher delivers one intent; satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Deliver(ctx context.Context, intent *db.NotificationIntent, now time.Time, immediate bool) (dispatch.Outcome, error)
}

// Repository is the storage surface the sweeper needs.
type Repository interface {
	ListDueIntents(ctx context.Context, now time.Time, limit int) ([]*db.NotificationIntent, error)
}

// Config tunes the sweep loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Sweeper drives dispatching of due intents and runs the registered
// producers ahead of each pass.
type Sweeper struct {
	repo       Repository
	dispatcher Dispatcher
	producers  []Producer
	config     Config
	logger     *zap.Logger
}

// New creates a Sweeper. Zero config fields get defaults.
func New(repo Repository, dispatcher Dispatcher, cfg Config, logger *zap.Logger, producers ...Producer) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &Sweeper{
		repo:       repo,
		dispatcher: dispatcher,
		producers:  producers,
		config:     cfg,
		logger:     logger,
	}
}

// Start runs produce+sweep on a fixed interval until the context is
// cancelled. The loop is single-flight: the next tick waits for the
// previous pass to finish, so sweeps never overlap.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			now := time.Now()
			s.Produce(ctx, now)
			if _, err := s.SweepDue(ctx, now); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Produce runs every registered producer. Producer failures are logged and
// isolated; one broken source never blocks the others or the sweep.
func (s *Sweeper) Produce(ctx context.Context, now time.Time) {
	for _, p := range s.producers {
		created, err := p.Produce(ctx, now)
		if err != nil {
			s.logger.Error("producer failed",
				zap.String("producer", p.Name()),
				zap.Error(err),
			)
			continue
		}
		if created > 0 {
			s.logger.Info("producer created intents",
				zap.String("producer", p.Name()),
				zap.Int("created", created),
			)
		}
	}
}

// SweepDue dispatches every intent with scheduled_for <= now and no sent_at,
// and returns how many it processed. A storage error on one intent is
// logged and skipped so the rest of the batch still runs.
func (s *Sweeper) SweepDue(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()

	intents, err := s.repo.ListDueIntents(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, intent := range intents {
		outcome, err := s.dispatcher.Deliver(ctx, intent, now, false)
		if err != nil {
			s.logger.Error("dispatch failed",
				zap.String("intent_id", intent.ID.String()),
				zap.Error(err),
			)
			continue
		}
		s.logger.Debug("intent swept",
			zap.String("intent_id", intent.ID.String()),
			zap.String("status", string(outcome.Status)),
		)
	}

	metrics.RecordSweep(time.Since(start), len(intents))

	if len(intents) > 0 {
		s.logger.Info("sweep completed",
			zap.Int("processed", len(intents)),
			zap.Duration("duration", time.Since(start)),
		)
	}

	return len(intents), nil
}
