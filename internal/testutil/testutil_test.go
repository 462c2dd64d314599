package testutil

import (
	"testing"
	"time"
)

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Now: got %v, want %v", clock.Now(), start)
	}

	clock.Advance(90 * time.Minute)
	want := start.Add(90 * time.Minute)
	if !clock.Now().Equal(want) {
		t.Errorf("after Advance: got %v, want %v", clock.Now(), want)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)
	if _, ok := ctx.Deadline(); !ok {
		t.Error("expected context with deadline")
	}
}
