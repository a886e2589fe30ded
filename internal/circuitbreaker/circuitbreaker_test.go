package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:            "test",
		MaxFailures:     maxFailures,
		RecoveryTimeout: recovery,
	}, zap.NewNop())
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want closed", cb.GetState())
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open breaker must reject requests")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Error("non-consecutive failures must not open the circuit")
	}
}

func TestBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}
	if cb.Allow() {
		t.Fatal("breaker should reject before the recovery timeout")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker should allow a probe after the recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.GetState())
	}
	// Only one probe at a time.
	if cb.Allow() {
		t.Error("second concurrent probe must be rejected")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v after successful probe, want closed", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker must allow requests")
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v after failed probe, want open", cb.GetState())
	}
}

func TestBreaker_Stats(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.Allow()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.Allow() // rejected, circuit open

	stats := cb.GetStats()
	if stats.State != StateOpen {
		t.Errorf("stats state = %v, want open", stats.State)
	}
	if stats.TotalRequests != 2 {
		t.Errorf("total requests = %d, want 2", stats.TotalRequests)
	}
	if stats.TotalRejected != 1 {
		t.Errorf("total rejected = %d, want 1", stats.TotalRejected)
	}
	if stats.TotalSuccesses != 1 || stats.TotalFailures != 1 {
		t.Errorf("successes=%d failures=%d, want 1 and 1", stats.TotalSuccesses, stats.TotalFailures)
	}
}
