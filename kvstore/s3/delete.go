package s3

import (
	"context"
	"fmt"
	"net/http"

	"github.com/code4manishk/tensorstore/kvstore"
)

// deleteTask satisfies one Driver.Delete call (Write with a nil value).
// Conditional deletes use the same HEAD probe as writes; the DELETE
// itself treats 404 as success, so deleting an absent key is idempotent.
type deleteTask struct {
	taskBase
	key  string
	opts kvstore.WriteOptions
}

func (t *deleteTask) run(ctx context.Context) (kvstore.TimestampedGeneration, error) {
	d := t.driver
	if err := d.writeLimiter.Wait(ctx); err != nil {
		return kvstore.TimestampedGeneration{}, err
	}
	release, err := d.admission.Acquire(ctx)
	if err != nil {
		return kvstore.TimestampedGeneration{}, err
	}
	defer release()

	target := d.objectURL(t.key)
	d.cfg.Logger.Trace("s3.delete.begin", "key", t.key, "conditional", !t.opts.IfEqual.IsUnknown())
	for {
		stamp, err := t.attemptOnce(ctx, target)
		if err == nil {
			d.cfg.Logger.Debug("s3.delete.done", "key", t.key)
			return stamp, nil
		}
		if !kvstore.IsTransient(err) {
			d.cfg.Logger.Debug("s3.delete.error", "key", t.key, "error", err)
			return kvstore.TimestampedGeneration{}, err
		}
		if err := t.backoffAndRetry(ctx, err); err != nil {
			return kvstore.TimestampedGeneration{}, err
		}
	}
}

func (t *deleteTask) attemptOnce(ctx context.Context, target string) (kvstore.TimestampedGeneration, error) {
	if !t.opts.IfEqual.IsUnknown() {
		proceed, stamp, err := peekPrecondition(ctx, t.driver, "delete", target, t.opts.IfEqual)
		if err != nil {
			return kvstore.TimestampedGeneration{}, err
		}
		if !proceed {
			return stamp, nil
		}
	}
	return t.doDelete(ctx, target)
}

func (t *deleteTask) doDelete(ctx context.Context, target string) (kvstore.TimestampedGeneration, error) {
	d := t.driver
	start := d.cfg.Clock.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return kvstore.TimestampedGeneration{}, fmt.Errorf("s3: build delete request: %w", err)
	}

	resp, err := d.signer.Do(ctx, req, emptyPayloadSHA256)
	if err != nil {
		return kvstore.TimestampedGeneration{}, transportError("delete", err)
	}
	payload, err := readBody(resp)
	if err != nil {
		return kvstore.TimestampedGeneration{}, transportError("delete", err)
	}

	if resp.StatusCode != http.StatusNotFound && !successStatus(resp.StatusCode) {
		return kvstore.TimestampedGeneration{}, classifyStatus("delete", resp, payload)
	}

	stamp := kvstore.TimestampedGeneration{Generation: kvstore.GenerationNoValue, Time: start}
	if resp.StatusCode == http.StatusNotFound &&
		!t.opts.IfEqual.IsUnknown() && !t.opts.IfEqual.IsNoValue() {
		// The caller named a concrete generation but the object is gone.
		stamp.Generation = kvstore.GenerationUnknown
	}
	return stamp, nil
}
