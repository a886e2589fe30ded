// Package dispatch implements the notification delivery engine: given a
// pending intent it resolves the owner's preference rule, applies
// quiet-hours suppression, fans out to the registered devices through the
// push gateway and records one delivery row per device attempt.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sohel123-png/fitgent-2.0/internal/db"
	"github.com/Sohel123-png/fitgent-2.0/internal/metrics"
	"github.com/Sohel123-png/fitgent-2.0/internal/push"
)

// Repository is the storage surface the dispatcher needs.
type Repository interface {
	GetIntent(ctx context.Context, id uuid.UUID) (*db.NotificationIntent, error)
	ResolvePreference(ctx context.Context, userID uuid.UUID, category string) (*db.NotificationPreference, error)
	ActiveDevices(ctx context.Context, userID uuid.UUID, deviceTypes []string) ([]*db.DeviceToken, error)
	RegisterDevice(ctx context.Context, userID uuid.UUID, deviceType, token string) (*db.DeviceToken, error)
	CreateDelivery(ctx context.Context, delivery *db.NotificationDelivery) error
	MarkDeliverySent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id uuid.UUID, detail string) error
	MarkIntentSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	TouchDevice(ctx context.Context, id uuid.UUID, at time.Time) error
}

// UserDirectory supplies a user's default push tokens per device class for
// users who never called device registration explicitly. Optional; a nil
// directory means only explicitly registered devices are reachable.
type UserDirectory interface {
	DefaultTokens(ctx context.Context, userID uuid.UUID) (map[string]string, error)
}

// Lease is an optional claim on an intent for the duration of one dispatch.
// Without it, concurrent dispatches of the same intent may both fan out;
// sent-marking stays idempotent either way, duplicate user-visible pushes
// are the accepted cost.
type Lease interface {
	Acquire(ctx context.Context, intentID uuid.UUID) (bool, error)
	Release(ctx context.Context, intentID uuid.UUID) error
}

// Status classifies the outcome of one dispatch pass.
type Status string

const (
	StatusDelivered  Status = "delivered"   // at least one device send succeeded
	StatusNotDue     Status = "not_due"     // scheduled time has not arrived
	StatusDisabled   Status = "disabled"    // preference rule disables the category
	StatusQuietHours Status = "quiet_hours" // inside the quiet-hours window
	StatusNoDevices  Status = "no_devices"  // no active device of an allowed class
	StatusAllFailed  Status = "all_failed"  // every device send failed
	StatusCancelled  Status = "cancelled"   // intent vanished before processing
	StatusInFlight   Status = "in_flight"   // another dispatch holds the lease
)

// Outcome reports what a dispatch pass did. Suppressions are successful
// no-ops, not errors; the intent simply stays pending for a later sweep.
type Outcome struct {
	Status    Status `json:"status"`
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
}

// Delivered reports whether the intent was marked sent by this pass or an
// earlier one.
func (o Outcome) Delivered() bool {
	return o.Status == StatusDelivered
}

// Config tunes the dispatcher.
type Config struct {
	// SendTimeout bounds each gateway call. A timed-out send is a failed
	// delivery, not a hang.
	SendTimeout time.Duration

	// MaxConcurrent caps parallel gateway calls during device fan-out.
	MaxConcurrent int
}

// Dispatcher delivers notification intents to devices.
type Dispatcher struct {
	repo    Repository
	gateway push.Gateway
	users   UserDirectory // nil disables default-token lookup
	lease   Lease         // nil disables dispatch claims
	config  Config
	logger  *zap.Logger
}

// New creates a Dispatcher. Zero config fields get defaults.
func New(repo Repository, gateway push.Gateway, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 4
	}

	return &Dispatcher{
		repo:    repo,
		gateway: gateway,
		config:  cfg,
		logger:  logger,
	}
}

// WithUserDirectory wires the optional default-token source.
func (d *Dispatcher) WithUserDirectory(users UserDirectory) *Dispatcher {
	d.users = users
	return d
}

// WithLease wires the optional per-intent dispatch claim.
func (d *Dispatcher) WithLease(lease Lease) *Dispatcher {
	d.lease = lease
	return d
}

// Deliver runs one dispatch pass over an intent. Each gate short-circuits
// with a no-op outcome rather than an error; only storage failures surface
// as errors. With immediate=true the schedule gate is skipped (admin
// "send now"). Safe under at-least-once invocation: retries create fresh
// delivery records and sent_at is only ever set once.
func (d *Dispatcher) Deliver(ctx context.Context, intent *db.NotificationIntent, now time.Time, immediate bool) (Outcome, error) {
	if !immediate && intent.ScheduledFor.After(now) {
		return Outcome{Status: StatusNotDue}, nil
	}

	if d.lease != nil {
		acquired, err := d.lease.Acquire(ctx, intent.ID)
		if err != nil {
			// Lease service being down must not stop delivery; fall back
			// to unguarded at-least-once dispatch.
			d.logger.Warn("dispatch lease unavailable", zap.Error(err))
		} else if !acquired {
			return Outcome{Status: StatusInFlight}, nil
		} else {
			defer func() {
				if err := d.lease.Release(context.WithoutCancel(ctx), intent.ID); err != nil {
					d.logger.Warn("failed to release dispatch lease", zap.Error(err))
				}
			}()
		}
	}

	// The intent may have been cancelled between selection and processing.
	fresh, err := d.repo.GetIntent(ctx, intent.ID)
	if errors.Is(err, db.ErrNotFound) {
		return Outcome{Status: StatusCancelled}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("refetch intent: %w", err)
	}
	intent = fresh

	pref, err := d.repo.ResolvePreference(ctx, intent.UserID, intent.Category)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve preference: %w", err)
	}

	if !pref.Enabled {
		metrics.RecordSuppression(intent.Category, string(StatusDisabled))
		return Outcome{Status: StatusDisabled}, nil
	}

	if pref.InQuietHours(now) {
		// The intent stays pending; a later sweep outside the window will
		// pick it up again. No reschedule happens here.
		metrics.RecordSuppression(intent.Category, string(StatusQuietHours))
		return Outcome{Status: StatusQuietHours}, nil
	}

	allowed := pref.AllowedDeviceTypes()
	if len(allowed) == 0 {
		metrics.RecordSuppression(intent.Category, string(StatusNoDevices))
		return Outcome{Status: StatusNoDevices}, nil
	}

	devices, err := d.repo.ActiveDevices(ctx, intent.UserID, allowed)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup devices: %w", err)
	}

	devices, err = d.fillDefaultDevices(ctx, intent.UserID, allowed, devices)
	if err != nil {
		return Outcome{}, err
	}

	if len(devices) == 0 {
		metrics.RecordSuppression(intent.Category, string(StatusNoDevices))
		return Outcome{Status: StatusNoDevices}, nil
	}

	sent, failed := d.fanOut(ctx, intent, devices, now)

	outcome := Outcome{Attempted: len(devices), Sent: sent, Failed: failed}
	if sent == 0 {
		outcome.Status = StatusAllFailed
		return outcome, nil
	}

	if _, err := d.repo.MarkIntentSent(ctx, intent.ID, now); err != nil {
		return outcome, fmt.Errorf("mark intent sent: %w", err)
	}

	outcome.Status = StatusDelivered
	d.logger.Info("intent delivered",
		zap.String("intent_id", intent.ID.String()),
		zap.String("category", intent.Category),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
	)
	return outcome, nil
}

// fillDefaultDevices registers the user directory's default token for any
// allowed class that has no active registration yet, mirroring clients that
// only ever handed their token to the account profile.
func (d *Dispatcher) fillDefaultDevices(ctx context.Context, userID uuid.UUID, allowed []string, devices []*db.DeviceToken) ([]*db.DeviceToken, error) {
	if d.users == nil {
		return devices, nil
	}

	have := make(map[string]bool, len(devices))
	for _, dev := range devices {
		have[dev.DeviceType] = true
	}

	missing := false
	for _, class := range allowed {
		if !have[class] {
			missing = true
			break
		}
	}
	if !missing {
		return devices, nil
	}

	defaults, err := d.users.DefaultTokens(ctx, userID)
	if err != nil {
		d.logger.Warn("user directory lookup failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return devices, nil
	}

	for _, class := range allowed {
		if have[class] {
			continue
		}
		token, ok := defaults[class]
		if !ok || token == "" {
			continue
		}
		dev, err := d.repo.RegisterDevice(ctx, userID, class, token)
		if err != nil {
			return nil, fmt.Errorf("register default device: %w", err)
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

// fanOut attempts delivery to every device concurrently, bounded by
// MaxConcurrent. Devices are independent: one failure never aborts the
// others, and outcome ordering carries no meaning.
func (d *Dispatcher) fanOut(ctx context.Context, intent *db.NotificationIntent, devices []*db.DeviceToken, now time.Time) (sent, failed int) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.config.MaxConcurrent)
	)

	data := intentData(intent)

	for _, dev := range devices {
		wg.Add(1)
		sem <- struct{}{}
		go func(dev *db.DeviceToken) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := d.deliverToDevice(ctx, intent, dev, data, now)

			mu.Lock()
			if ok {
				sent++
			} else {
				failed++
			}
			mu.Unlock()
		}(dev)
	}

	wg.Wait()
	return sent, failed
}

// deliverToDevice records one delivery attempt against one device: a fresh
// pending record, one bounded gateway call, then a terminal sent or failed
// transition.
func (d *Dispatcher) deliverToDevice(ctx context.Context, intent *db.NotificationIntent, dev *db.DeviceToken, data map[string]string, now time.Time) bool {
	delivery := &db.NotificationDelivery{
		ID:       uuid.New(),
		IntentID: intent.ID,
		DeviceID: dev.ID,
		Status:   db.DeliveryPending,
	}

	if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
		// The intent may have been deleted mid-flight, cascading away the
		// record's parent. Count the device as failed and move on.
		d.logger.Warn("failed to create delivery record",
			zap.Error(err),
			zap.String("intent_id", intent.ID.String()),
			zap.String("device_id", dev.ID.String()),
		)
		metrics.RecordDelivery(db.DeliveryFailed, dev.DeviceType)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	err := d.gateway.Send(sendCtx, dev.Token, intent.Title, intent.Message, data)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "timeout"
		}
		if markErr := d.repo.MarkDeliveryFailed(ctx, delivery.ID, detail); markErr != nil {
			d.logger.Error("failed to record delivery failure", zap.Error(markErr))
		}
		d.logger.Warn("push send failed",
			zap.String("intent_id", intent.ID.String()),
			zap.String("device_type", dev.DeviceType),
			zap.String("detail", detail),
		)
		metrics.RecordDelivery(db.DeliveryFailed, dev.DeviceType)
		return false
	}

	if err := d.repo.MarkDeliverySent(ctx, delivery.ID, now); err != nil {
		d.logger.Error("failed to record delivery success", zap.Error(err))
	}
	if err := d.repo.TouchDevice(ctx, dev.ID, now); err != nil {
		d.logger.Warn("failed to refresh device last_used", zap.Error(err))
	}

	metrics.RecordDelivery(db.DeliverySent, dev.DeviceType)
	return true
}

// intentData flattens the intent's opaque JSON payload into the string map
// the push providers accept. Non-string values keep their JSON encoding.
func intentData(intent *db.NotificationIntent) map[string]string {
	if len(intent.Data) == 0 {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(intent.Data, &raw); err != nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
