package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_Sleep(t *testing.T) {
	clock := RealClock{}
	start := time.Now()
	clock.Sleep(5 * time.Millisecond)
	if time.Since(start) < 5*time.Millisecond {
		t.Error("Sleep returned early")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(5 * time.Millisecond)
	clock.Sleep(time.Second)

	if got := clock.Since(start); got != time.Second+5*time.Millisecond {
		t.Errorf("Since() = %v, want 1.005s", got)
	}

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 5*time.Millisecond || sleeps[1] != time.Second {
		t.Errorf("unexpected sleeps: %v", sleeps)
	}
	if clock.TotalSlept() != time.Second+5*time.Millisecond {
		t.Errorf("TotalSlept() = %v", clock.TotalSlept())
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	clock := NewMockClock(time.Time{})
	newTime := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(newTime)
	clock.Advance(time.Hour)

	if !clock.Now().Equal(newTime.Add(time.Hour)) {
		t.Errorf("got %v, want %v", clock.Now(), newTime.Add(time.Hour))
	}
	if len(clock.Sleeps()) != 0 {
		t.Error("Advance should not record a sleep")
	}
}

func TestSettle(t *testing.T) {
	clock := NewMockClock(time.Time{})

	if err := Settle(context.Background(), clock, 5*time.Millisecond); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if err := Settle(context.Background(), clock, 0); err != nil {
		t.Fatalf("Settle(0) error = %v", err)
	}
	if n := len(clock.Sleeps()); n != 1 {
		t.Errorf("expected 1 recorded sleep, got %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Settle(ctx, clock, time.Second); err == nil {
		t.Error("expected error for cancelled context")
	}
	if n := len(clock.Sleeps()); n != 1 {
		t.Errorf("cancelled settle must not sleep, got %d sleeps", n)
	}
}
