package circuitbreaker

import (
	"testing"
	"time"

	"github.com/djlord-it/printfleet/internal/testutil"
)

const endpoint = "http://advisor.local/v1/proposals"

func newBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	return New(threshold, cooldown, WithClock(clock.Now)), clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(endpoint)
	}
}

func TestAllow_UnknownEndpoint_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if got := cb.State(endpoint); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, 2)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	trip(cb, 3)
	if err := cb.Allow(endpoint); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := cb.State(endpoint); got != StateOpen {
		t.Errorf("State = %v, want open", got)
	}
}

func TestAllow_OpenAfterCooldown_SingleProbe(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	trip(cb, 3)

	clock.Advance(9 * time.Second)
	if err := cb.Allow(endpoint); err == nil {
		t.Fatal("expected ErrCircuitOpen before cooldown")
	}

	clock.Advance(time.Second)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	if err := cb.Allow(endpoint); err == nil {
		t.Fatal("expected ErrCircuitOpen while half-open probe in flight")
	}
	if got := cb.State(endpoint); got != StateHalfOpen {
		t.Errorf("State = %v, want half_open", got)
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	trip(cb, 3)
	clock.Advance(10 * time.Second)
	cb.Allow(endpoint)
	cb.RecordSuccess(endpoint)

	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
	trip(cb, 2)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("failure count should restart after success, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReopens(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	trip(cb, 3)
	clock.Advance(10 * time.Second)
	cb.Allow(endpoint)
	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen after failed probe, got %v", err)
	}
	clock.Advance(10 * time.Second)
	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("cooldown restarts from the failed probe, got %v", err)
	}
}

func TestRecordSuccess_UnknownEndpoint_NoOp(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	cb.RecordSuccess(endpoint)
	if got := cb.State(endpoint); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestIndependentEndpoints(t *testing.T) {
	cb, _ := newBreaker(2, time.Minute)
	other := "http://backup-advisor.local/v1/proposals"
	trip(cb, 2)

	if err := cb.Allow(endpoint); err == nil {
		t.Fatal("expected primary endpoint open")
	}
	if err := cb.Allow(other); err != nil {
		t.Fatalf("expected other endpoint closed, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open"}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
