package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNopLimiterAdmitsImmediately(t *testing.T) {
	t.Parallel()

	if err := (NopLimiter{}).Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (NopLimiter{}).Wait(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTokenBucketRespectsCancellation(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 1)
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Fatal("expected error waiting for a drained bucket under a short deadline")
	}
}

func TestTokenBucketUnlimitedWhenRateNonPositive(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(0, 0)
	for i := 0; i < 100; i++ {
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestAdmissionQueueCapsInFlight(t *testing.T) {
	t.Parallel()

	q := NewAdmissionQueue(2)
	rel1, err := q.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	rel2, err := q.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if _, ok := q.TryAcquire(); ok {
		t.Fatal("expected queue to be full")
	}
	rel1()
	rel1() // release is single-shot; a second call must not free another slot
	rel3, ok := q.TryAcquire()
	if !ok {
		t.Fatal("expected a slot after release")
	}
	if _, ok := q.TryAcquire(); ok {
		t.Fatal("double release freed an extra slot")
	}
	rel2()
	rel3()
}

func TestAdmissionQueueAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	q := NewAdmissionQueue(1)
	rel, err := q.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer rel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Acquire(ctx); err == nil {
		t.Fatal("expected acquire on a full queue to fail under deadline")
	}
}
