package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sohel123-png/fitgent-2.0/internal/db"
	"github.com/Sohel123-png/fitgent-2.0/internal/dispatch"
	"github.com/Sohel123-png/fitgent-2.0/internal/metrics"
)

// Repository defines the storage operations the API layer needs.
type Repository interface {
	RegisterDevice(ctx context.Context, userID uuid.UUID, deviceType, token string) (*db.DeviceToken, error)
	DeactivateDevice(ctx context.Context, userID uuid.UUID, token string) error

	ListPreferences(ctx context.Context, userID uuid.UUID) ([]*db.NotificationPreference, error)
	UpsertPreference(ctx context.Context, userID uuid.UUID, category string, upd db.PreferenceUpdate) (*db.NotificationPreference, error)

	CreateIntent(ctx context.Context, intent *db.NotificationIntent) error
	CreateDailyUniqueIntent(ctx context.Context, intent *db.NotificationIntent) (bool, error)
	GetIntent(ctx context.Context, id uuid.UUID) (*db.NotificationIntent, error)
	ListIntentsByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*db.NotificationIntent, int, error)
	MarkIntentRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllIntentsRead(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteIntent(ctx context.Context, userID, id uuid.UUID) error
	ListDeliveriesByIntent(ctx context.Context, intentID uuid.UUID) ([]*db.NotificationDelivery, error)

	CreateReminder(ctx context.Context, rem *db.Reminder) error
	ListRemindersByUser(ctx context.Context, userID uuid.UUID) ([]*db.Reminder, error)
	DeleteReminder(ctx context.Context, userID, id uuid.UUID) error
}

// Dispatcher delivers a single intent; satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Deliver(ctx context.Context, intent *db.NotificationIntent, now time.Time, immediate bool) (dispatch.Outcome, error)
}

// Sweeper runs one pass over due intents; satisfied by *scheduler.Sweeper.
type Sweeper interface {
	SweepDue(ctx context.Context, now time.Time) (int, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	repo       Repository
	dispatcher Dispatcher
	sweeper    Sweeper
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, dispatcher Dispatcher, sweeper Sweeper) *Handler {
	return &Handler{
		logger:     logger,
		repo:       repo,
		dispatcher: dispatcher,
		sweeper:    sweeper,
	}
}

// Routes registers all API routes on the given router. The admin subtree
// must additionally be wrapped with AdminAuthMiddleware by the caller.
func (h *Handler) Routes(r chi.Router, adminAuth func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/device-tokens", h.RegisterDevice)
		r.Delete("/device-tokens/{token}", h.UnregisterDevice)

		r.Get("/notification-preferences", h.ListPreferences)
		r.Put("/notification-preferences/{category}", h.UpdatePreference)

		r.Post("/intents", h.CreateIntent)

		r.Get("/notifications", h.ListNotifications)
		r.Put("/notifications/read-all", h.MarkAllRead)
		r.Put("/notifications/{id}/read", h.MarkRead)
		r.Delete("/notifications/{id}", h.DeleteNotification)
		r.Get("/notifications/{id}/deliveries", h.ListDeliveries)

		r.Post("/reminders", h.CreateReminder)
		r.Get("/reminders", h.ListReminders)
		r.Delete("/reminders/{id}", h.DeleteReminder)

		r.Route("/admin", func(r chi.Router) {
			if adminAuth != nil {
				r.Use(adminAuth)
			}
			r.Post("/notifications/send", h.AdminSend)
			r.Post("/sweep", h.AdminSweep)
		})
	})
}

// DeviceRequest is the body for device token registration.
type DeviceRequest struct {
	UserID     string `json:"user_id"`
	DeviceType string `json:"device_type"`
	Token      string `json:"token"`
}

// RegisterDevice handles POST /api/device-tokens.
// Registering a token that already exists reassigns it to the given user and
// reactivates it.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and token are required")
		return
	}

	if !db.ValidDeviceType(req.DeviceType) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid device_type", "device_type must be mobile or watch")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	device, err := h.repo.RegisterDevice(ctx, userID, req.DeviceType, req.Token)
	if err != nil {
		h.logger.Error("failed to register device",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("device_type", req.DeviceType),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to register device", "")
		return
	}

	h.logger.Info("device registered",
		zap.String("device_id", device.ID.String()),
		zap.String("user_id", req.UserID),
		zap.String("device_type", req.DeviceType),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(device)
}

// UnregisterDevice handles DELETE /api/device-tokens/{token}?user_id=xxx.
// Unknown tokens and tokens owned by another user are silent no-ops.
func (h *Handler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := chi.URLParam(r, "token")

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeactivateDevice(ctx, userID, token); err != nil {
		h.logger.Error("failed to deactivate device",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to unregister device", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "unregistered"})
}

// ListPreferences handles GET /api/notification-preferences?user_id=xxx
func (h *Handler) ListPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	prefs, err := h.repo.ListPreferences(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list preferences",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list preferences", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  prefs,
		"count": len(prefs),
	})
}

// PreferenceRequest is the body for preference updates. Omitted fields keep
// their current value; quiet-hours fields set to empty strings clear the
// window.
type PreferenceRequest struct {
	UserID          string  `json:"user_id"`
	Enabled         *bool   `json:"enabled,omitempty"`
	SendMobile      *bool   `json:"send_mobile,omitempty"`
	SendWatch       *bool   `json:"send_watch,omitempty"`
	QuietHoursStart *string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string `json:"quiet_hours_end,omitempty"`
}

// UpdatePreference handles PUT /api/notification-preferences/{category}
func (h *Handler) UpdatePreference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	category := chi.URLParam(r, "category")

	var req PreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id is required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	for _, clock := range []*string{req.QuietHoursStart, req.QuietHoursEnd} {
		if clock == nil || *clock == "" {
			continue
		}
		if _, err := db.ParseClock(*clock); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid quiet hours", err.Error())
			return
		}
	}

	pref, err := h.repo.UpsertPreference(ctx, userID, category, db.PreferenceUpdate{
		Enabled:         req.Enabled,
		SendMobile:      req.SendMobile,
		SendWatch:       req.SendWatch,
		QuietHoursStart: req.QuietHoursStart,
		QuietHoursEnd:   req.QuietHoursEnd,
	})
	if err != nil {
		h.logger.Error("failed to upsert preference",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("category", category),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update preference", "")
		return
	}

	h.logger.Info("preference updated",
		zap.String("user_id", req.UserID),
		zap.String("category", category),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(pref)
}

// IntentRequest is the body for intent creation.
type IntentRequest struct {
	UserID       string          `json:"user_id"`
	Category     string          `json:"category"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	DailyUnique  bool            `json:"daily_unique,omitempty"`
}

// IntentResponse is returned after creating an intent.
type IntentResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// CreateIntent handles POST /api/intents. With daily_unique set, creation is
// skipped when the user already has an intent with the same category and
// title on the same calendar day; the response then reports created=false.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.Category == "" || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id, category, and title are required")
		return
	}

	if len(req.Data) > 0 && !json.Valid(req.Data) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid data", "data must be valid JSON")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	scheduledFor := time.Now()
	if req.ScheduledFor != nil {
		scheduledFor = *req.ScheduledFor
	}

	intent := &db.NotificationIntent{
		ID:           uuid.New(),
		UserID:       userID,
		Category:     req.Category,
		Title:        req.Title,
		Message:      req.Message,
		Data:         req.Data,
		ScheduledFor: scheduledFor,
	}

	created := true
	if req.DailyUnique {
		created, err = h.repo.CreateDailyUniqueIntent(ctx, intent)
	} else {
		err = h.repo.CreateIntent(ctx, intent)
	}
	if err != nil {
		h.logger.Error("failed to create intent",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("category", req.Category),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create intent", "")
		return
	}

	if created {
		metrics.RecordIntentCreated(req.Category)
		h.logger.Info("intent created",
			zap.String("id", intent.ID.String()),
			zap.String("user_id", req.UserID),
			zap.String("category", req.Category),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(IntentResponse{ID: intent.ID.String(), Created: created})
}

// ListNotifications handles GET /api/notifications?user_id=xxx&unread_only=true&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	intents, total, err := h.repo.ListIntentsByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   intents,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// MarkRead handles PUT /api/notifications/{id}/read?user_id=xxx
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	intentID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	if err := h.repo.MarkIntentRead(ctx, userID, intentID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notification read", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": idStr, "status": "read"})
}

// MarkAllRead handles PUT /api/notifications/read-all?user_id=xxx
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	updated, err := h.repo.MarkAllIntentsRead(ctx, userID)
	if err != nil {
		h.logger.Error("failed to mark all notifications read",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notifications read", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"updated": updated})
}

// DeleteNotification handles DELETE /api/notifications/{id}?user_id=xxx.
// Delivery records cascade away with the intent.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	intentID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteIntent(ctx, userID, intentID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to delete notification",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete notification", "")
		return
	}

	h.logger.Info("notification deleted",
		zap.String("id", idStr),
		zap.String("user_id", userID.String()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": idStr, "status": "deleted"})
}

// ListDeliveries handles GET /api/notifications/{id}/deliveries?user_id=xxx.
// Returns the per-device delivery ledger for one notification.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	intentID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	// Ownership check before exposing the ledger.
	intent, err := h.repo.GetIntent(ctx, intentID)
	if err != nil || intent.UserID != userID {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}

	deliveries, err := h.repo.ListDeliveriesByIntent(ctx, intentID)
	if err != nil {
		h.logger.Error("failed to list deliveries",
			zap.Error(err),
			zap.String("intent_id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list deliveries", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  deliveries,
		"count": len(deliveries),
	})
}

// ReminderRequest is the body for reminder creation.
type ReminderRequest struct {
	UserID       string   `json:"user_id"`
	ReminderType string   `json:"reminder_type"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	RemindAt     string   `json:"remind_at"`
	Days         []string `json:"days"`
}

// CreateReminder handles POST /api/reminders
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.ReminderType == "" || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id, reminder_type, and title are required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	if _, err := db.ParseClock(req.RemindAt); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid remind_at", err.Error())
		return
	}

	for _, day := range req.Days {
		if !validWeekday(day) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid day", day+" is not a weekday name")
			return
		}
	}

	days, err := json.Marshal(req.Days)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid days", err.Error())
		return
	}

	rem := &db.Reminder{
		ID:           uuid.New(),
		UserID:       userID,
		ReminderType: req.ReminderType,
		Title:        req.Title,
		Description:  req.Description,
		RemindAt:     req.RemindAt,
		Days:         days,
		IsActive:     true,
	}

	if err := h.repo.CreateReminder(ctx, rem); err != nil {
		h.logger.Error("failed to create reminder",
			zap.Error(err),
			zap.String("user_id", req.UserID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create reminder", "")
		return
	}

	h.logger.Info("reminder created",
		zap.String("id", rem.ID.String()),
		zap.String("user_id", req.UserID),
		zap.String("reminder_type", req.ReminderType),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rem)
}

// ListReminders handles GET /api/reminders?user_id=xxx
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	reminders, err := h.repo.ListRemindersByUser(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list reminders",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  reminders,
		"count": len(reminders),
	})
}

// DeleteReminder handles DELETE /api/reminders/{id}?user_id=xxx
func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	remID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid reminder ID", "ID must be a valid UUID")
		return
	}

	userID, ok := h.queryUserID(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteReminder(ctx, userID, remID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Reminder not found", "")
			return
		}
		h.logger.Error("failed to delete reminder",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete reminder", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": idStr, "status": "deleted"})
}

// AdminSendRequest is the body for an operator-initiated immediate send.
type AdminSendRequest struct {
	UserID   string          `json:"user_id"`
	Category string          `json:"category,omitempty"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// AdminSend handles POST /api/admin/notifications/send. The intent is
// persisted and dispatched immediately, skipping the schedule gate but not
// the preference gates: quiet hours and disabled categories still suppress.
func (h *Handler) AdminSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AdminSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and title are required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	category := req.Category
	if category == "" {
		category = db.CategoryTest
	}

	now := time.Now()
	intent := &db.NotificationIntent{
		ID:           uuid.New(),
		UserID:       userID,
		Category:     category,
		Title:        req.Title,
		Message:      req.Message,
		Data:         req.Data,
		ScheduledFor: now,
	}

	if err := h.repo.CreateIntent(ctx, intent); err != nil {
		h.logger.Error("failed to create admin intent",
			zap.Error(err),
			zap.String("user_id", req.UserID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create notification", "")
		return
	}
	metrics.RecordIntentCreated(category)

	outcome, err := h.dispatcher.Deliver(ctx, intent, now, true)
	if err != nil {
		h.logger.Error("admin dispatch failed",
			zap.Error(err),
			zap.String("intent_id", intent.ID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to dispatch notification", "")
		return
	}

	h.logger.Info("admin notification dispatched",
		zap.String("intent_id", intent.ID.String()),
		zap.String("user_id", req.UserID),
		zap.String("status", string(outcome.Status)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      intent.ID.String(),
		"outcome": outcome,
	})
}

// AdminSweep handles POST /api/admin/sweep: one on-demand pass over due
// intents, same code path as the periodic loop.
func (h *Handler) AdminSweep(w http.ResponseWriter, r *http.Request) {
	processed, err := h.sweeper.SweepDue(r.Context(), time.Now())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "sweep_error", "Sweep failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"processed": processed})
}

// queryUserID parses the required user_id query parameter, writing a 400 on
// failure.
func (h *Handler) queryUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return uuid.Nil, false
	}
	return userID, true
}

func validWeekday(s string) bool {
	switch s {
	case "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday":
		return true
	}
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
