package s3

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/code4manishk/tensorstore/kvstore"
)

// readTask satisfies one Driver.Read call: a single GET carrying the
// caller's preconditions and byte range, retried through the shared
// backoff schedule on transient failures.
type readTask struct {
	taskBase
	key  string
	opts kvstore.ReadOptions
}

func (t *readTask) run(ctx context.Context) (kvstore.ReadResult, error) {
	d := t.driver
	if err := d.readLimiter.Wait(ctx); err != nil {
		return kvstore.ReadResult{}, err
	}
	release, err := d.admission.Acquire(ctx)
	if err != nil {
		return kvstore.ReadResult{}, err
	}
	defer release()

	target := d.objectURL(t.key)
	d.cfg.Logger.Trace("s3.read.begin", "key", t.key, "url", target)
	for {
		result, err := t.attemptOnce(ctx, target)
		if err == nil {
			d.cfg.Logger.Debug("s3.read.done", "key", t.key, "state", result.State.String())
			return result, nil
		}
		if !kvstore.IsTransient(err) {
			d.cfg.Logger.Debug("s3.read.error", "key", t.key, "error", err)
			return kvstore.ReadResult{}, err
		}
		if err := t.backoffAndRetry(ctx, err); err != nil {
			return kvstore.ReadResult{}, err
		}
	}
}

func (t *readTask) attemptOnce(ctx context.Context, target string) (kvstore.ReadResult, error) {
	d := t.driver
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return kvstore.ReadResult{}, fmt.Errorf("s3: build read request: %w", err)
	}
	addGenerationHeader(req.Header, "If-None-Match", t.opts.IfNotEqual)
	addGenerationHeader(req.Header, "If-Match", t.opts.IfEqual)
	if h := t.opts.ByteRange.RangeHeader(); h != "" {
		req.Header.Set("Range", h)
	}

	start := d.cfg.Clock.Now()
	resp, err := d.signer.Do(ctx, req, emptyPayloadSHA256)
	if err != nil {
		return kvstore.ReadResult{}, transportError("read", err)
	}
	payload, err := readBody(resp)
	if err != nil {
		return kvstore.ReadResult{}, transportError("read", err)
	}

	switch resp.StatusCode {
	case http.StatusPreconditionFailed, http.StatusNotFound, http.StatusNotModified, http.StatusNoContent:
		// Handled by finish, outside the retry loop.
	default:
		if !successStatus(resp.StatusCode) {
			return kvstore.ReadResult{}, classifyStatus("read", resp, payload)
		}
	}
	return t.finish(ctx, resp, payload, start)
}

// finish maps a terminal response to a ReadResult. The stamp time is the
// instant captured just before the request was issued.
func (t *readTask) finish(ctx context.Context, resp *http.Response, payload []byte, start time.Time) (kvstore.ReadResult, error) {
	d := t.driver
	d.metrics.bytesRead.Add(ctx, int64(len(payload)))
	d.metrics.readLatency.Record(ctx, d.cfg.Clock.Now().Sub(start).Milliseconds())

	result := kvstore.ReadResult{Stamp: kvstore.TimestampedGeneration{Time: start}}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		result.State = kvstore.ReadStateMissing
		result.Stamp.Generation = kvstore.GenerationNoValue
		return result, nil
	case http.StatusPreconditionFailed:
		// The if-match condition did not hold. Returned even when the
		// object does not exist.
		result.Stamp.Generation = kvstore.GenerationUnknown
		return result, nil
	case http.StatusNotModified:
		// The if-none-match condition did not hold; echo the caller's
		// generation.
		result.Stamp.Generation = t.opts.IfNotEqual
		return result, nil
	}

	br := t.opts.ByteRange
	if resp.StatusCode != http.StatusPartialContent {
		// The server returned the whole object; this may or may not have
		// been a range request, so resolve the requested slice here.
		offset, length, err := br.Validate(int64(len(payload)))
		if err != nil {
			return kvstore.ReadResult{}, err
		}
		result.State = kvstore.ReadStateValue
		result.Value = payload[offset : offset+length]
	} else {
		header := resp.Header.Get("Content-Range")
		first, _, _, err := parseContentRange(header)
		if err != nil {
			return kvstore.ReadResult{}, fmt.Errorf("s3: read: %w", err)
		}
		if size := br.RequestSize(); (br.InclusiveMin >= 0 && first != br.InclusiveMin) ||
			(size >= 0 && size != int64(len(payload))) {
			return kvstore.ReadResult{}, fmt.Errorf("%w: requested byte range %s was not satisfied by response of size %d",
				kvstore.ErrOutOfRange, br, len(payload))
		}
		result.State = kvstore.ReadStateValue
		result.Value = payload
	}

	gen, err := generationFromResponse(resp)
	if err != nil {
		return kvstore.ReadResult{}, err
	}
	result.Stamp.Generation = gen
	return result, nil
}
