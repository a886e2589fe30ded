package db

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationIntent is a durable request to notify a user, independent of
// whether or how it was delivered. SentAt stays NULL until the dispatcher
// achieves at least one successful device delivery, and once set is never
// cleared.
type NotificationIntent struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Category     string          `json:"category"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data,omitempty"`
	IsRead       bool            `json:"is_read"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Well-known categories produced by the recurring generators. Category is an
// open string tag: producers may introduce new ones without touching this
// list, as long as preference rows use the same key.
const (
	CategoryMealReminder    = "meal_reminder"
	CategoryWorkoutReminder = "workout_reminder"
	CategoryGoalAchievement = "goal_achievement"
	CategoryTest            = "test"
)

// Device classes. Exactly these two are accepted at the API boundary;
// "mobile" is the primary class, "watch" the secondary.
const (
	DeviceMobile = "mobile"
	DeviceWatch  = "watch"
)

// ValidDeviceType reports whether s names a known device class.
func ValidDeviceType(s string) bool {
	return s == DeviceMobile || s == DeviceWatch
}

// DeviceToken is a registered delivery endpoint for one of a user's devices.
// The token string is globally unique; re-registering an existing token
// reassigns ownership (last writer wins) and reactivates it.
type DeviceToken struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	DeviceType string    `json:"device_type"`
	Token      string    `json:"token"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
}

// NotificationPreference controls delivery for one (user, category) pair.
// Quiet hours are "HH:MM" clock times; a window whose start is later than
// its end spans midnight. Exactly one row exists per pair — a permissive
// default is synthesized and persisted the first time a pair is resolved.
type NotificationPreference struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Category        string    `json:"category"`
	Enabled         bool      `json:"enabled"`
	SendMobile      bool      `json:"send_mobile"`
	SendWatch       bool      `json:"send_watch"`
	QuietHoursStart *string   `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string   `json:"quiet_hours_end,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AllowedDeviceTypes returns the device classes this rule fans out to.
func (p *NotificationPreference) AllowedDeviceTypes() []string {
	var types []string
	if p.SendMobile {
		types = append(types, DeviceMobile)
	}
	if p.SendWatch {
		types = append(types, DeviceWatch)
	}
	return types
}

// InQuietHours reports whether now falls inside the rule's quiet-hours
// window. Both boundaries are inclusive and only the time of day matters.
// An incomplete window (missing start or end) never suppresses.
func (p *NotificationPreference) InQuietHours(now time.Time) bool {
	if p.QuietHoursStart == nil || p.QuietHoursEnd == nil {
		return false
	}
	start, err := ParseClock(*p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := ParseClock(*p.QuietHoursEnd)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return start <= cur && cur <= end
	}
	// Window spans midnight, e.g. 22:00-07:00.
	return cur >= start || cur <= end
}

// ParseClock parses an "HH:MM" 24-hour clock string into minutes since
// midnight. Used for quiet-hours validation at the API boundary and for the
// suppression check itself.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: bad minute", s)
	}
	return h*60 + m, nil
}

// Delivery status constants
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// NotificationDelivery records one attempt to deliver one intent to one
// device. Rows are immutable once status leaves pending; a retry on a later
// sweep creates fresh rows instead of reusing old ones.
type NotificationDelivery struct {
	ID          uuid.UUID  `json:"id"`
	IntentID    uuid.UUID  `json:"intent_id"`
	DeviceID    uuid.UUID  `json:"device_id"`
	Status      string     `json:"status"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Reminder is a user-configured recurring trigger consumed by the meal
// reminder producer. Days holds JSON-encoded weekday names, e.g.
// ["Monday","Wednesday"]; RemindAt is the "HH:MM" time of day.
type Reminder struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	ReminderType string          `json:"reminder_type"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	RemindAt     string          `json:"remind_at"`
	Days         json.RawMessage `json:"days"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DayNames decodes the Days list; a malformed list means "no days".
func (r *Reminder) DayNames() []string {
	var days []string
	if err := json.Unmarshal(r.Days, &days); err != nil {
		return nil
	}
	return days
}

// ActiveOn reports whether the reminder fires on the weekday of t.
func (r *Reminder) ActiveOn(t time.Time) bool {
	day := t.Weekday().String()
	for _, d := range r.DayNames() {
		if d == day {
			return true
		}
	}
	return false
}
