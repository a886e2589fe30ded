package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sohel123-png/fitgent-2.0/internal/db"
)

// Producer generates notification intents for one recurring category. Every
// producer must be idempotent across sweep ticks: running twice on the same
// day creates each intent at most once.
type Producer interface {
	Name() string
	Produce(ctx context.Context, now time.Time) (int, error)
}

// ProducerRepository is the storage surface producers write through.
// CreateDailyUniqueIntent is the idempotence mechanism: it inserts only when
// no intent with the same user, category and title exists on the same
// calendar day.
type ProducerRepository interface {
	CreateDailyUniqueIntent(ctx context.Context, intent *db.NotificationIntent) (bool, error)
	ListActiveReminders(ctx context.Context, reminderType string) ([]*db.Reminder, error)
}

// MealReminderProducer turns each user's active meal reminders into
// scheduled intents on the days the reminder names.
type MealReminderProducer struct {
	repo   ProducerRepository
	logger *zap.Logger
}

// NewMealReminderProducer creates a meal reminder producer.
func NewMealReminderProducer(repo ProducerRepository, logger *zap.Logger) *MealReminderProducer {
	return &MealReminderProducer{repo: repo, logger: logger}
}

func (p *MealReminderProducer) Name() string { return "meal_reminder" }

// Produce creates one intent per reminder that fires today, scheduled for
// the reminder's configured time of day. Reminders with a malformed time are
// logged and skipped.
func (p *MealReminderProducer) Produce(ctx context.Context, now time.Time) (int, error) {
	reminders, err := p.repo.ListActiveReminders(ctx, "meal")
	if err != nil {
		return 0, fmt.Errorf("list meal reminders: %w", err)
	}

	created := 0
	for _, rem := range reminders {
		if !rem.ActiveOn(now) {
			continue
		}

		at, err := clockToday(rem.RemindAt, now)
		if err != nil {
			p.logger.Warn("skipping reminder with bad time",
				zap.String("reminder_id", rem.ID.String()),
				zap.String("remind_at", rem.RemindAt),
			)
			continue
		}

		intent := &db.NotificationIntent{
			ID:           uuid.New(),
			UserID:       rem.UserID,
			Category:     db.CategoryMealReminder,
			Title:        rem.Title,
			Message:      rem.Description,
			ScheduledFor: at,
		}
		inserted, err := p.repo.CreateDailyUniqueIntent(ctx, intent)
		if err != nil {
			return created, fmt.Errorf("create meal intent: %w", err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// clockToday combines an "HH:MM" clock string with now's calendar day.
func clockToday(clock string, now time.Time) (time.Time, error) {
	mins, err := db.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), mins/60, mins%60, 0, 0, now.Location()), nil
}

// WorkoutEvent is a planned workout due for a reminder today.
type WorkoutEvent struct {
	UserID uuid.UUID
	Name   string
	Detail string
	At     time.Time
}

// WorkoutSource lists workouts that should be reminded about on a given day.
// Satisfied by the workout-plan service; injected so this package stays free
// of plan storage concerns.
type WorkoutSource interface {
	DueWorkouts(ctx context.Context, now time.Time) ([]WorkoutEvent, error)
}

// WorkoutReminderProducer creates workout reminder intents from a plan
// source, one per workout per day.
type WorkoutReminderProducer struct {
	repo   ProducerRepository
	source WorkoutSource
	logger *zap.Logger
}

// NewWorkoutReminderProducer creates a workout reminder producer.
func NewWorkoutReminderProducer(repo ProducerRepository, source WorkoutSource, logger *zap.Logger) *WorkoutReminderProducer {
	return &WorkoutReminderProducer{repo: repo, source: source, logger: logger}
}

func (p *WorkoutReminderProducer) Name() string { return "workout_reminder" }

func (p *WorkoutReminderProducer) Produce(ctx context.Context, now time.Time) (int, error) {
	workouts, err := p.source.DueWorkouts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due workouts: %w", err)
	}

	created := 0
	for _, w := range workouts {
		intent := &db.NotificationIntent{
			ID:           uuid.New(),
			UserID:       w.UserID,
			Category:     db.CategoryWorkoutReminder,
			Title:        fmt.Sprintf("Time for %s", w.Name),
			Message:      w.Detail,
			ScheduledFor: w.At,
		}
		inserted, err := p.repo.CreateDailyUniqueIntent(ctx, intent)
		if err != nil {
			return created, fmt.Errorf("create workout intent: %w", err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// GoalEvent is a goal a user crossed that deserves a congratulation.
type GoalEvent struct {
	UserID  uuid.UUID
	Title   string
	Message string
	Data    map[string]any
}

// GoalSource lists goals achieved since the previous check.
type GoalSource interface {
	AchievedGoals(ctx context.Context, now time.Time) ([]GoalEvent, error)
}

// GoalAchievementProducer turns achieved goals into immediate congratulation
// intents. The same-day uniqueness guard means repeatedly crossing the same
// threshold in one day congratulates only once.
type GoalAchievementProducer struct {
	repo   ProducerRepository
	source GoalSource
	logger *zap.Logger
}

// NewGoalAchievementProducer creates a goal achievement producer.
func NewGoalAchievementProducer(repo ProducerRepository, source GoalSource, logger *zap.Logger) *GoalAchievementProducer {
	return &GoalAchievementProducer{repo: repo, source: source, logger: logger}
}

func (p *GoalAchievementProducer) Name() string { return "goal_achievement" }

func (p *GoalAchievementProducer) Produce(ctx context.Context, now time.Time) (int, error) {
	goals, err := p.source.AchievedGoals(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list achieved goals: %w", err)
	}

	created := 0
	for _, g := range goals {
		var data json.RawMessage
		if len(g.Data) > 0 {
			b, err := json.Marshal(g.Data)
			if err != nil {
				p.logger.Warn("dropping unencodable goal payload",
					zap.String("user_id", g.UserID.String()),
					zap.Error(err),
				)
			} else {
				data = b
			}
		}

		intent := &db.NotificationIntent{
			ID:           uuid.New(),
			UserID:       g.UserID,
			Category:     db.CategoryGoalAchievement,
			Title:        g.Title,
			Message:      g.Message,
			Data:         data,
			ScheduledFor: now,
		}
		inserted, err := p.repo.CreateDailyUniqueIntent(ctx, intent)
		if err != nil {
			return created, fmt.Errorf("create goal intent: %w", err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}
