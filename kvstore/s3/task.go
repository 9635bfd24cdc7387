package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/code4manishk/tensorstore/internal/backoff"
	"github.com/code4manishk/tensorstore/internal/clock"
	"github.com/code4manishk/tensorstore/kvstore"
)

// taskBase carries the retry state shared by every operation task. A
// task runs as one linear routine: rate-limiter admission, admission
// queue, then an attempt loop where transient failures sleep through the
// backoff schedule and restart the attempt from the top.
type taskBase struct {
	driver  *Driver
	op      string
	attempt int
}

// backoffAndRetry applies the shared retry policy to a transient failure.
// It returns nil after sleeping out the backoff delay, meaning the caller
// should re-attempt, or a terminal error when the retry budget is spent
// or the context ended during the delay.
func (t *taskBase) backoffAndRetry(ctx context.Context, cause error) error {
	d := t.driver
	if t.attempt >= d.cfg.Retries.MaxRetries {
		return fmt.Errorf("%w: all %d retry attempts failed: %w", kvstore.ErrAborted, t.attempt, cause)
	}
	d.metrics.retries.Add(ctx, 1)
	delay := backoff.ForAttempt(t.attempt, d.cfg.Retries.InitialDelay, d.cfg.Retries.MaxDelay)
	t.attempt++
	d.cfg.Logger.Warn("s3.task.retry",
		"op", t.op,
		"attempt", t.attempt,
		"max_retries", d.cfg.Retries.MaxRetries,
		"delay", delay,
		"error", cause,
	)
	return clock.SleepContext(ctx, d.cfg.Clock, delay)
}

// retriableStatus reports whether an HTTP status may succeed on retry:
// 408, 429 and all 5xx. Every other status is terminal.
func retriableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

// transportError wraps a transport-level failure. I/O failures are
// transient; a cancelled context is surfaced as-is so callers abandon
// silently.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return kvstore.NewTransientError(fmt.Errorf("s3: %s request: %w", op, err))
}

// classifyStatus turns an unexpected HTTP status into an error, marking
// it transient when the shared predicate allows a retry.
func classifyStatus(op string, resp *http.Response, payload []byte) error {
	err := fmt.Errorf("s3: %s: unexpected status %q: %s", op, resp.Status, bodySnippet(payload))
	if retriableStatus(resp.StatusCode) {
		return kvstore.NewTransientError(err)
	}
	return err
}

func successStatus(code int) bool {
	return code >= 200 && code < 300
}
