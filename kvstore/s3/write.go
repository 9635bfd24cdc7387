package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/code4manishk/tensorstore/kvstore"
)

// writeTask satisfies one Driver.Write call. S3 has no conditional PUT,
// so a conditional write first probes the current generation with a HEAD
// carrying If-Match; the probe is advisory and a concurrent writer can
// still slip between the probe and the PUT. A transient failure anywhere
// restarts the whole attempt from the probe.
type writeTask struct {
	taskBase
	key   string
	value []byte
	opts  kvstore.WriteOptions
}

func (t *writeTask) run(ctx context.Context) (kvstore.TimestampedGeneration, error) {
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
	payloadHash := payloadSHA256(t.value)
	d.cfg.Logger.Trace("s3.write.begin", "key", t.key, "size", len(t.value), "conditional", !t.opts.IfEqual.IsUnknown())
	for {
		stamp, err := t.attemptOnce(ctx, target, payloadHash)
		if err == nil {
			d.cfg.Logger.Debug("s3.write.done", "key", t.key, "generation", string(stamp.Generation))
			return stamp, nil
		}
		if !kvstore.IsTransient(err) {
			d.cfg.Logger.Debug("s3.write.error", "key", t.key, "error", err)
			return kvstore.TimestampedGeneration{}, err
		}
		if err := t.backoffAndRetry(ctx, err); err != nil {
			return kvstore.TimestampedGeneration{}, err
		}
	}
}

func (t *writeTask) attemptOnce(ctx context.Context, target, payloadHash string) (kvstore.TimestampedGeneration, error) {
	if !t.opts.IfEqual.IsUnknown() {
		proceed, stamp, err := peekPrecondition(ctx, t.driver, "write", target, t.opts.IfEqual)
		if err != nil {
			return kvstore.TimestampedGeneration{}, err
		}
		if !proceed {
			return stamp, nil
		}
	}
	return t.put(ctx, target, payloadHash)
}

func (t *writeTask) put(ctx context.Context, target, payloadHash string) (kvstore.TimestampedGeneration, error) {
	d := t.driver
	start := d.cfg.Clock.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(t.value))
	if err != nil {
		return kvstore.TimestampedGeneration{}, fmt.Errorf("s3: build write request: %w", err)
	}
	req.ContentLength = int64(len(t.value))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.signer.Do(ctx, req, payloadHash)
	if err != nil {
		return kvstore.TimestampedGeneration{}, transportError("write", err)
	}
	payload, err := readBody(resp)
	if err != nil {
		return kvstore.TimestampedGeneration{}, transportError("write", err)
	}

	if resp.StatusCode == http.StatusNotFound && !t.opts.IfEqual.IsUnknown() {
		// The object vanished between the probe and the PUT.
		return kvstore.TimestampedGeneration{Generation: kvstore.GenerationUnknown, Time: start}, nil
	}
	if !successStatus(resp.StatusCode) {
		return kvstore.TimestampedGeneration{}, classifyStatus("write", resp, payload)
	}
	gen, err := generationFromResponse(resp)
	if err != nil {
		return kvstore.TimestampedGeneration{}, err
	}
	d.metrics.writeLatency.Record(ctx, d.cfg.Clock.Now().Sub(start).Milliseconds())
	d.metrics.bytesWritten.Add(ctx, int64(len(t.value)))
	return kvstore.TimestampedGeneration{Generation: gen, Time: start}, nil
}

// peekPrecondition issues the HEAD probe emulating a conditional
// mutation. proceed reports that the mutation should go ahead; otherwise
// stamp carries the precondition-failed result. A retriable status or a
// transport failure comes back as a transient error so the caller
// restarts the whole attempt.
func peekPrecondition(ctx context.Context, d *Driver, op, target string, ifEqual kvstore.Generation) (proceed bool, stamp kvstore.TimestampedGeneration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false, kvstore.TimestampedGeneration{}, fmt.Errorf("s3: build %s probe request: %w", op, err)
	}
	addGenerationHeader(req.Header, "If-Match", ifEqual)

	resp, err := d.signer.Do(ctx, req, emptyPayloadSHA256)
	if err != nil {
		return false, kvstore.TimestampedGeneration{}, transportError(op+" probe", err)
	}
	discardBody(resp)

	now := d.cfg.Clock.Now()
	switch resp.StatusCode {
	case http.StatusNotModified, http.StatusPreconditionFailed:
		// The generation did not match.
		return false, kvstore.TimestampedGeneration{Generation: kvstore.GenerationUnknown, Time: now}, nil
	case http.StatusNotFound:
		if !ifEqual.IsNoValue() {
			return false, kvstore.TimestampedGeneration{Generation: kvstore.GenerationUnknown, Time: now}, nil
		}
		// Absent is the state the caller asked for.
		return true, kvstore.TimestampedGeneration{}, nil
	}
	if !successStatus(resp.StatusCode) {
		return false, kvstore.TimestampedGeneration{}, classifyStatus(op+" probe", resp, nil)
	}
	if ifEqual.IsNoValue() {
		// The object exists, but the caller required it to be absent.
		return false, kvstore.TimestampedGeneration{Generation: kvstore.GenerationUnknown, Time: now}, nil
	}
	return true, kvstore.TimestampedGeneration{}, nil
}
