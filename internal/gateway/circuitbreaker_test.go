package gateway

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitClosedAllowsByDefault(t *testing.T) {
	cb := NewCircuitBreaker()
	if !cb.Allow() {
		t.Fatalf("expected fresh breaker to allow")
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected Closed, got %v", cb.State())
	}
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < FailureThreshold; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected Open after %d failures, got %v", FailureThreshold, cb.State())
	}
	if cb.Allow() {
		t.Fatalf("expected Open breaker to refuse")
	}
}

func TestCircuitHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker()
	now := time.Now()
	cb.now = func() time.Time { return now }
	for i := 0; i < FailureThreshold; i++ {
		cb.RecordFailure()
	}
	now = now.Add(OpenTimeout + time.Second)
	if !cb.Allow() {
		t.Fatalf("expected breaker to allow probe after timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected HalfOpen, got %v", cb.State())
	}
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker()
	now := time.Now()
	cb.now = func() time.Time { return now }
	for i := 0; i < FailureThreshold; i++ {
		cb.RecordFailure()
	}
	now = now.Add(OpenTimeout + time.Second)
	cb.Allow()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected immediate reopen on half-open failure, got %v", cb.State())
	}
}

func TestCircuitHalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker()
	now := time.Now()
	cb.now = func() time.Time { return now }
	for i := 0; i < FailureThreshold; i++ {
		cb.RecordFailure()
	}
	now = now.Add(OpenTimeout + time.Second)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected Closed after half-open success, got %v", cb.State())
	}
}

func TestSendRefusesWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < FailureThreshold; i++ {
		cb.RecordFailure()
	}
	called := false
	err := cb.Send(func() error { called = true; return nil })
	if called {
		t.Fatalf("fn should not run while breaker is open")
	}
	if err == nil {
		t.Fatalf("expected error from Send while open")
	}
}

func TestSendRecordsFailureFromFn(t *testing.T) {
	cb := NewCircuitBreaker()
	boom := errors.New("boom")
	err := cb.Send(func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error returned, got %v", err)
	}
}
