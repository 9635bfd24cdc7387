package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/code4manishk/tensorstore/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterDeliversOnce(t *testing.T) {
	t.Parallel()

	ch := clock.Real{}.After(10 * time.Millisecond)
	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("After did not trigger within timeout")
	}
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- clock.SleepContext(ctx, m, time.Minute)
	}()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SleepContext did not observe cancellation")
	}
}

func TestSleepContextCompletesOnAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	done := make(chan error, 1)
	go func() {
		done <- clock.SleepContext(context.Background(), m, time.Second)
	}()
	for i := 0; i < 100 && m.Pending() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	m.Advance(time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sleep: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SleepContext did not complete after advance")
	}
}
