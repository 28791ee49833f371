package metrics

import "testing"

func TestSnapshotReflectsIncrements(t *testing.T) {
	before := Snap()
	IncFramesPushed()
	IncFramesDropped()
	IncForceClears()
	after := Snap()

	if after.FramesPushed != before.FramesPushed+1 {
		t.Fatalf("expected FramesPushed to increment")
	}
	if after.FramesDropped != before.FramesDropped+1 {
		t.Fatalf("expected FramesDropped to increment")
	}
	if after.ForceClears != before.ForceClears+1 {
		t.Fatalf("expected ForceClears to increment")
	}
}

func TestReadinessDefaultsToTrue(t *testing.T) {
	SetReadinessFunc(nil)
	if !IsReady() {
		t.Fatalf("expected IsReady to default true with no callback installed")
	}
}

func TestReadinessCallback(t *testing.T) {
	SetReadinessFunc(func() bool { return false })
	defer SetReadinessFunc(nil)
	if IsReady() {
		t.Fatalf("expected IsReady to reflect installed callback")
	}
}
