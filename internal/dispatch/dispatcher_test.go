package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sohel123-png/fitgent-2.0/internal/db"
)

// mockRepository is an in-memory stand-in for the storage layer.
type mockRepository struct {
	mu sync.Mutex

	intents     map[uuid.UUID]*db.NotificationIntent
	preferences map[string]*db.NotificationPreference // userID|category
	devices     []*db.DeviceToken
	deliveries  map[uuid.UUID]*db.NotificationDelivery

	sentMarks int
	touched   map[uuid.UUID]int

	createDeliveryErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		intents:     make(map[uuid.UUID]*db.NotificationIntent),
		preferences: make(map[string]*db.NotificationPreference),
		deliveries:  make(map[uuid.UUID]*db.NotificationDelivery),
		touched:     make(map[uuid.UUID]int),
	}
}

func prefKey(userID uuid.UUID, category string) string {
	return userID.String() + "|" + category
}

func (m *mockRepository) GetIntent(ctx context.Context, id uuid.UUID) (*db.NotificationIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *intent
	return &cp, nil
}

func (m *mockRepository) ResolvePreference(ctx context.Context, userID uuid.UUID, category string) (*db.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.preferences[prefKey(userID, category)]; ok {
		return p, nil
	}
	// Mirror storage's write-on-read permissive default.
	p := &db.NotificationPreference{
		ID:         uuid.New(),
		UserID:     userID,
		Category:   category,
		Enabled:    true,
		SendMobile: true,
		SendWatch:  true,
	}
	m.preferences[prefKey(userID, category)] = p
	return p, nil
}

func (m *mockRepository) ActiveDevices(ctx context.Context, userID uuid.UUID, deviceTypes []string) ([]*db.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := make(map[string]bool, len(deviceTypes))
	for _, t := range deviceTypes {
		allowed[t] = true
	}
	var out []*db.DeviceToken
	for _, d := range m.devices {
		if d.UserID == userID && d.IsActive && allowed[d.DeviceType] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepository) RegisterDevice(ctx context.Context, userID uuid.UUID, deviceType, token string) (*db.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Token == token {
			d.UserID = userID
			d.DeviceType = deviceType
			d.IsActive = true
			return d, nil
		}
	}
	d := &db.DeviceToken{
		ID:         uuid.New(),
		UserID:     userID,
		DeviceType: deviceType,
		Token:      token,
		IsActive:   true,
	}
	m.devices = append(m.devices, d)
	return d, nil
}

func (m *mockRepository) CreateDelivery(ctx context.Context, delivery *db.NotificationDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createDeliveryErr != nil {
		return m.createDeliveryErr
	}
	cp := *delivery
	m.deliveries[delivery.ID] = &cp
	return nil
}

func (m *mockRepository) MarkDeliverySent(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok && d.Status == db.DeliveryPending {
		d.Status = db.DeliverySent
		d.SentAt = &at
	}
	return nil
}

func (m *mockRepository) MarkDeliveryFailed(ctx context.Context, id uuid.UUID, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok && d.Status == db.DeliveryPending {
		d.Status = db.DeliveryFailed
		d.Error = &detail
	}
	return nil
}

func (m *mockRepository) MarkIntentSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok || intent.SentAt != nil {
		return false, nil
	}
	intent.SentAt = &at
	m.sentMarks++
	return true, nil
}

func (m *mockRepository) TouchDevice(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id]++
	return nil
}

func (m *mockRepository) deliveryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries)
}

func (m *mockRepository) deliveriesByStatus(status string) []*db.NotificationDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.NotificationDelivery
	for _, d := range m.deliveries {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

func (m *mockRepository) addIntent(intent *db.NotificationIntent) {
	m.intents[intent.ID] = intent
}

func (m *mockRepository) addDevice(userID uuid.UUID, deviceType, token string) *db.DeviceToken {
	d := &db.DeviceToken{
		ID:         uuid.New(),
		UserID:     userID,
		DeviceType: deviceType,
		Token:      token,
		IsActive:   true,
	}
	m.devices = append(m.devices, d)
	return d
}

func (m *mockRepository) setPreference(p *db.NotificationPreference) {
	m.preferences[prefKey(p.UserID, p.Category)] = p
}

// fakeGateway succeeds or fails per token.
type fakeGateway struct {
	mu      sync.Mutex
	fail    map[string]error
	block   map[string]bool // block until the send context expires
	sends   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: make(map[string]error), block: make(map[string]bool)}
}

func (g *fakeGateway) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if g.blocks(token) {
		<-ctx.Done()
		return ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, token)
	if err, ok := g.fail[token]; ok {
		return err
	}
	return nil
}

func (g *fakeGateway) blocks(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.block[token]
}

func (g *fakeGateway) sentTokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sends...)
}

func testIntent(userID uuid.UUID, scheduledFor time.Time) *db.NotificationIntent {
	return &db.NotificationIntent{
		ID:           uuid.New(),
		UserID:       userID,
		Category:     db.CategoryWorkoutReminder,
		Title:        "Time for Leg day",
		Message:      "Squats and lunges",
		ScheduledFor: scheduledFor,
	}
}

func newTestDispatcher(repo *mockRepository, gw *fakeGateway) *Dispatcher {
	return New(repo, gw, Config{SendTimeout: 200 * time.Millisecond}, zap.NewNop())
}

func TestDeliver_NotDue(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(time.Hour))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	outcome, err := newTestDispatcher(repo, newFakeGateway()).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusNotDue {
		t.Errorf("status = %q, want %q", outcome.Status, StatusNotDue)
	}
	if repo.deliveryCount() != 0 {
		t.Error("future intent must not produce delivery records")
	}
}

func TestDeliver_ImmediateSkipsScheduleGate(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(time.Hour))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	outcome, err := newTestDispatcher(repo, newFakeGateway()).Deliver(context.Background(), intent, now, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDelivered {
		t.Errorf("status = %q, want %q", outcome.Status, StatusDelivered)
	}
}

func TestDeliver_DisabledPreference(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")
	repo.setPreference(&db.NotificationPreference{
		UserID:   userID,
		Category: intent.Category,
		Enabled:  false,
	})

	gw := newFakeGateway()
	outcome, err := newTestDispatcher(repo, gw).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDisabled {
		t.Errorf("status = %q, want %q", outcome.Status, StatusDisabled)
	}
	if len(gw.sentTokens()) != 0 {
		t.Error("disabled preference must not reach the gateway")
	}
}

func TestDeliver_QuietHours(t *testing.T) {
	// Window 22:00-07:00 spans midnight; 23:00 is inside it.
	now := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	start, end := "22:00", "07:00"

	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")
	repo.setPreference(&db.NotificationPreference{
		UserID:          userID,
		Category:        intent.Category,
		Enabled:         true,
		SendMobile:      true,
		QuietHoursStart: &start,
		QuietHoursEnd:   &end,
	})

	outcome, err := newTestDispatcher(repo, newFakeGateway()).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusQuietHours {
		t.Errorf("status = %q, want %q", outcome.Status, StatusQuietHours)
	}
	if repo.deliveryCount() != 0 {
		t.Error("suppressed intent must not produce delivery records")
	}
	if got, _ := repo.GetIntent(context.Background(), intent.ID); got.SentAt != nil {
		t.Error("suppressed intent must stay pending")
	}
}

func TestDeliver_NoAllowedClasses(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")
	repo.setPreference(&db.NotificationPreference{
		UserID:   userID,
		Category: intent.Category,
		Enabled:  true,
		// both classes off
	})

	outcome, err := newTestDispatcher(repo, newFakeGateway()).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusNoDevices {
		t.Errorf("status = %q, want %q", outcome.Status, StatusNoDevices)
	}
}

func TestDeliver_NoActiveDevices(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)

	outcome, err := newTestDispatcher(repo, newFakeGateway()).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusNoDevices {
		t.Errorf("status = %q, want %q", outcome.Status, StatusNoDevices)
	}
	if repo.deliveryCount() != 0 {
		t.Error("no-device dispatch must not produce delivery records")
	}
}

func TestDeliver_PartialFailureStillDelivers(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	mobile := repo.addDevice(userID, db.DeviceMobile, "tok-mobile")
	repo.addDevice(userID, db.DeviceWatch, "tok-watch")

	gw := newFakeGateway()
	gw.fail["tok-watch"] = errors.New("provider rejected token")

	outcome, err := newTestDispatcher(repo, gw).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDelivered {
		t.Errorf("status = %q, want %q", outcome.Status, StatusDelivered)
	}
	if outcome.Attempted != 2 || outcome.Sent != 1 || outcome.Failed != 1 {
		t.Errorf("outcome = %+v, want attempted=2 sent=1 failed=1", outcome)
	}
	if repo.deliveryCount() != 2 {
		t.Errorf("delivery records = %d, want 2", repo.deliveryCount())
	}
	if n := len(repo.deliveriesByStatus(db.DeliverySent)); n != 1 {
		t.Errorf("sent records = %d, want 1", n)
	}
	if n := len(repo.deliveriesByStatus(db.DeliveryFailed)); n != 1 {
		t.Errorf("failed records = %d, want 1", n)
	}
	if got, _ := repo.GetIntent(context.Background(), intent.ID); got.SentAt == nil {
		t.Error("intent must be marked sent after a partial success")
	}
	if repo.touched[mobile.ID] != 1 {
		t.Error("successful send must refresh the device's last_used")
	}
}

func TestDeliver_AllFailed(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	gw := newFakeGateway()
	gw.fail["tok1"] = errors.New("provider down")

	outcome, err := newTestDispatcher(repo, gw).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusAllFailed {
		t.Errorf("status = %q, want %q", outcome.Status, StatusAllFailed)
	}
	if got, _ := repo.GetIntent(context.Background(), intent.ID); got.SentAt != nil {
		t.Error("intent must stay pending when every send failed")
	}
}

func TestDeliver_TimeoutRecordsTimeoutDetail(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok-slow")

	gw := newFakeGateway()
	gw.block["tok-slow"] = true

	d := New(repo, gw, Config{SendTimeout: 20 * time.Millisecond}, zap.NewNop())
	outcome, err := d.Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusAllFailed {
		t.Errorf("status = %q, want %q", outcome.Status, StatusAllFailed)
	}

	failed := repo.deliveriesByStatus(db.DeliveryFailed)
	if len(failed) != 1 {
		t.Fatalf("failed records = %d, want 1", len(failed))
	}
	if failed[0].Error == nil || *failed[0].Error != "timeout" {
		t.Errorf("failure detail = %v, want \"timeout\"", failed[0].Error)
	}
}

func TestDeliver_CancelledIntent(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	intent := testIntent(uuid.New(), now.Add(-time.Minute))
	// Never added to the repo: it was deleted between selection and dispatch.

	outcome, err := newTestDispatcher(repo, newFakeGateway()).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusCancelled {
		t.Errorf("status = %q, want %q", outcome.Status, StatusCancelled)
	}
	if repo.deliveryCount() != 0 {
		t.Error("cancelled intent must not produce delivery records")
	}
}

func TestDeliver_RedeliveryKeepsOriginalSentAt(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Hour))
	firstSent := now.Add(-30 * time.Minute)
	intent.SentAt = &firstSent
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	outcome, err := newTestDispatcher(repo, newFakeGateway()).Deliver(context.Background(), intent, now, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDelivered {
		t.Errorf("status = %q, want %q", outcome.Status, StatusDelivered)
	}
	// Fresh delivery records, but the original sent timestamp survives.
	if repo.deliveryCount() != 1 {
		t.Errorf("delivery records = %d, want 1", repo.deliveryCount())
	}
	got, _ := repo.GetIntent(context.Background(), intent.ID)
	if got.SentAt == nil || !got.SentAt.Equal(firstSent) {
		t.Errorf("sent_at = %v, want the original %v", got.SentAt, firstSent)
	}
}

type fakeDirectory struct {
	tokens map[string]string
	err    error
}

func (f *fakeDirectory) DefaultTokens(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tokens, nil
}

func TestDeliver_FillsDefaultDevicesFromDirectory(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)

	gw := newFakeGateway()
	d := newTestDispatcher(repo, gw).WithUserDirectory(&fakeDirectory{
		tokens: map[string]string{db.DeviceMobile: "profile-tok"},
	})

	outcome, err := d.Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDelivered {
		t.Errorf("status = %q, want %q", outcome.Status, StatusDelivered)
	}
	sent := gw.sentTokens()
	if len(sent) != 1 || sent[0] != "profile-tok" {
		t.Errorf("sent tokens = %v, want [profile-tok]", sent)
	}
	// The filled token is now a registered device.
	devices, _ := repo.ActiveDevices(context.Background(), userID, []string{db.DeviceMobile})
	if len(devices) != 1 {
		t.Errorf("registered devices = %d, want 1", len(devices))
	}
}

func TestDeliver_DirectoryFailureFallsBackToRegistered(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	d := newTestDispatcher(repo, newFakeGateway()).WithUserDirectory(&fakeDirectory{
		err: errors.New("profile service down"),
	})

	outcome, err := d.Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDelivered {
		t.Errorf("status = %q, want %q", outcome.Status, StatusDelivered)
	}
}

type fakeLease struct {
	mu       sync.Mutex
	held     map[uuid.UUID]bool
	err      error
	releases int
}

func (f *fakeLease) Acquire(ctx context.Context, intentID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held[intentID] {
		return false, nil
	}
	if f.held == nil {
		f.held = make(map[uuid.UUID]bool)
	}
	f.held[intentID] = true
	return true, nil
}

func (f *fakeLease) Release(ctx context.Context, intentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, intentID)
	f.releases++
	return nil
}

func TestDeliver_LeaseHeldMeansInFlight(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	lease := &fakeLease{held: map[uuid.UUID]bool{intent.ID: true}}
	d := newTestDispatcher(repo, newFakeGateway()).WithLease(lease)

	outcome, err := d.Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusInFlight {
		t.Errorf("status = %q, want %q", outcome.Status, StatusInFlight)
	}
	if repo.deliveryCount() != 0 {
		t.Error("a claimed intent must not be dispatched again")
	}
}

func TestDeliver_LeaseReleasedAfterDispatch(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	lease := &fakeLease{}
	d := newTestDispatcher(repo, newFakeGateway()).WithLease(lease)

	if _, err := d.Deliver(context.Background(), intent, now, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease.releases != 1 {
		t.Errorf("lease releases = %d, want 1", lease.releases)
	}
}

func TestDeliver_LeaseServiceDownStillDelivers(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")

	lease := &fakeLease{err: errors.New("redis unreachable")}
	d := newTestDispatcher(repo, newFakeGateway()).WithLease(lease)

	outcome, err := d.Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDelivered {
		t.Errorf("status = %q, want %q", outcome.Status, StatusDelivered)
	}
}

// A workout reminder created at 23:00 against a 22:00-07:00 quiet window is
// suppressed immediately and again until the morning sweep delivers it.
func TestDeliver_QuietHoursThenMorningSweep(t *testing.T) {
	evening := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	morning := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	start, end := "22:00", "07:00"

	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, evening)
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")
	repo.setPreference(&db.NotificationPreference{
		UserID:          userID,
		Category:        intent.Category,
		Enabled:         true,
		SendMobile:      true,
		QuietHoursStart: &start,
		QuietHoursEnd:   &end,
	})

	gw := newFakeGateway()
	d := newTestDispatcher(repo, gw)

	outcome, err := d.Deliver(context.Background(), intent, evening, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusQuietHours {
		t.Fatalf("evening status = %q, want %q", outcome.Status, StatusQuietHours)
	}

	outcome, err = d.Deliver(context.Background(), intent, morning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusDelivered {
		t.Fatalf("morning status = %q, want %q", outcome.Status, StatusDelivered)
	}
	sent := gw.sentTokens()
	if len(sent) != 1 || sent[0] != "tok1" {
		t.Errorf("sent tokens = %v, want [tok1]", sent)
	}
}

func TestDeliver_CreateDeliveryErrorCountsAsFailed(t *testing.T) {
	now := time.Now()
	repo := newMockRepository()
	userID := uuid.New()
	intent := testIntent(userID, now.Add(-time.Minute))
	repo.addIntent(intent)
	repo.addDevice(userID, db.DeviceMobile, "tok1")
	repo.createDeliveryErr = errors.New("foreign key violation")

	gw := newFakeGateway()
	outcome, err := newTestDispatcher(repo, gw).Deliver(context.Background(), intent, now, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusAllFailed {
		t.Errorf("status = %q, want %q", outcome.Status, StatusAllFailed)
	}
	if len(gw.sentTokens()) != 0 {
		t.Error("gateway must not be called when the delivery record cannot be created")
	}
}
