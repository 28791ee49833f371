package cancel

import (
	"testing"
	"time"
)

func TestCancelClosesDone(t *testing.T) {
	src := NewSource()
	tok := src.Token()
	if tok.Cancelled() {
		t.Fatalf("expected fresh token not cancelled")
	}
	select {
	case <-tok.Done():
		t.Fatalf("done should not be closed yet")
	default:
	}

	src.Cancel()
	if !tok.Cancelled() {
		t.Fatalf("expected token cancelled after Cancel")
	}
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatalf("done channel did not close")
	}
}

func TestCancelIdempotent(t *testing.T) {
	src := NewSource()
	src.Cancel()
	src.Cancel() // must not panic on double-close
	if !src.Cancelled() {
		t.Fatalf("expected cancelled")
	}
}

func TestResetStartsFreshGeneration(t *testing.T) {
	src := NewSource()
	src.Cancel()
	src.Reset()
	if src.Cancelled() {
		t.Fatalf("expected reset source not cancelled")
	}
	tok := src.Token()
	if tok.Cancelled() {
		t.Fatalf("expected fresh token from new generation not cancelled")
	}
	select {
	case <-tok.Done():
		t.Fatalf("fresh generation's done should not be closed")
	default:
	}
}

func TestZeroValueTokenNeverCancelled(t *testing.T) {
	var tok Token
	if tok.Cancelled() {
		t.Fatalf("zero value token should report not cancelled")
	}
	if tok.Done() != nil {
		t.Fatalf("zero value token's Done channel should be nil")
	}
}
