package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddleware_RecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rec.Code)
	}
}

func TestRecorders_DoNotPanic(t *testing.T) {
	// Counter vectors panic on label cardinality mistakes; exercise each
	// helper once so a label drift fails the suite.
	RecordRequest(http.MethodPost, "/api/intents", http.StatusCreated, 5*time.Millisecond)
	RecordIntentCreated("meal_reminder")
	RecordDelivery("sent", "mobile")
	RecordDelivery("failed", "watch")
	RecordSuppression("meal_reminder", "quiet_hours")
	RecordSweep(120*time.Millisecond, 3)
}

func TestHandler_ServesMetrics(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected metrics exposition output")
	}
}
