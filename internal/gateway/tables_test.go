package gateway

import (
	"testing"
	"time"
)

func TestClientTableAllocatesLowestFreeSlot(t *testing.T) {
	ct := NewClientTable()
	c0 := ct.Allocate(0)
	c1 := ct.Allocate(0)
	if c0.Slot != 0 || c1.Slot != 1 {
		t.Fatalf("expected slots 0,1, got %d,%d", c0.Slot, c1.Slot)
	}
	ct.Remove(0)
	c2 := ct.Allocate(0)
	if c2.Slot != 0 {
		t.Fatalf("expected freed slot 0 reused, got %d", c2.Slot)
	}
}

func TestClientActivateAndActiveSnapshot(t *testing.T) {
	ct := NewClientTable()
	c := ct.Allocate(0)
	if len(ct.Active()) != 0 {
		t.Fatalf("expected no active clients before Activate")
	}
	c.Activate()
	active := ct.Active()
	if len(active) != 1 || active[0].Slot != c.Slot {
		t.Fatalf("expected client active after Activate")
	}
}

func TestClientRateWindowThrottles(t *testing.T) {
	c := NewClient(0, 100)
	now := time.Now()
	c.now = func() time.Time { return now }
	if c.Touch(50) {
		t.Fatalf("expected no throttle under cap")
	}
	if !c.Touch(60) {
		t.Fatalf("expected throttle once window bytes exceed cap")
	}
	if c.State() != ClientThrottled {
		t.Fatalf("expected Throttled state")
	}
	now = now.Add(RateWindow + time.Millisecond)
	if c.Touch(1) {
		t.Fatalf("expected throttle cleared after window rolls over")
	}
}

func TestClientRateWindowZeroCapNeverThrottles(t *testing.T) {
	c := NewClient(0, 0)
	if c.Touch(1_000_000) {
		t.Fatalf("expected zero cap to disable throttling")
	}
}

func TestClientIdleFor(t *testing.T) {
	c := NewClient(0, 0)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Touch(0)
	now = now.Add(70 * time.Second)
	if c.IdleFor() < IdleTimeout {
		t.Fatalf("expected idle duration past IdleTimeout")
	}
}

func TestClientRecordSendResultClosesAfterThreshold(t *testing.T) {
	c := NewClient(0, 0)
	var mustClose bool
	for i := 0; i < MaxConsecutiveSendFailures; i++ {
		mustClose = c.RecordSendResult(false)
	}
	if !mustClose {
		t.Fatalf("expected mustClose after %d consecutive failures", MaxConsecutiveSendFailures)
	}
}

func TestClientRecordSendResultSuccessResets(t *testing.T) {
	c := NewClient(0, 0)
	for i := 0; i < MaxConsecutiveSendFailures-1; i++ {
		c.RecordSendResult(false)
	}
	c.RecordSendResult(true)
	if c.RecordSendResult(false) {
		t.Fatalf("expected failure count reset after a success")
	}
}

func TestAgentTableAllocateAndConnected(t *testing.T) {
	at := NewAgentTable()
	a0 := at.Allocate()
	a1 := at.Allocate()
	if a0.Slot != 0 || a1.Slot != 1 {
		t.Fatalf("expected slots 0,1, got %d,%d", a0.Slot, a1.Slot)
	}
	if len(at.Connected()) != 2 {
		t.Fatalf("expected both agents connected")
	}
	a0.Connected = false
	conn := at.Connected()
	if len(conn) != 1 || conn[0].Slot != 1 {
		t.Fatalf("expected only slot 1 connected")
	}
}
