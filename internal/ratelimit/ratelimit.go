// Package ratelimit provides the admission primitives shared by driver
// tasks: a request-per-second limiter and a bounded in-flight queue.
// Rate (req/s) limiting and concurrency capping are independent gates;
// a task passes the limiter first and then waits for a queue slot.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter admits a task to the network layer. Wait blocks until the
// task may proceed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NopLimiter admits every task immediately.
type NopLimiter struct{}

// Wait returns ctx.Err so a cancelled caller is still refused.
func (NopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

// TokenBucket is a Limiter backed by a token bucket.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a token-bucket limiter admitting rps requests
// per second with the given burst. A non-positive rps disables limiting.
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	if rps <= 0 {
		return &TokenBucket{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available.
func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// AdmissionQueue caps the number of tasks concurrently in flight.
type AdmissionQueue struct {
	sem *semaphore.Weighted
}

// NewAdmissionQueue builds a queue admitting at most n tasks at a time.
// n < 1 is treated as 1.
func NewAdmissionQueue(n int64) *AdmissionQueue {
	if n < 1 {
		n = 1
	}
	return &AdmissionQueue{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until a slot is free and returns its release function.
// The release function may be called any number of times; the slot is
// returned exactly once.
func (q *AdmissionQueue) Acquire(ctx context.Context) (func(), error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { q.sem.Release(1) })
	}, nil
}

// TryAcquire reports whether a slot was immediately available.
func (q *AdmissionQueue) TryAcquire() (func(), bool) {
	if !q.sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { q.sem.Release(1) })
	}, true
}
