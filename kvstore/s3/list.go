package s3

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/code4manishk/tensorstore/kvstore"
)

// listTask streams the keys in a range to a flow receiver, paging through
// ListObjectsV2 continuation tokens. The receiver's cancel callback sets
// an atomic flag checked before each page and before each emission;
// cancellation completes the stream with SetDone rather than an error.
type listTask struct {
	taskBase
	opts     kvstore.ListOptions
	receiver kvstore.FlowReceiver

	token     string
	cancelled atomic.Bool
}

func (t *listTask) run(ctx context.Context) {
	d := t.driver
	t.receiver.SetStarting(func() { t.cancelled.Store(true) })
	defer t.receiver.SetStopping()

	if err := d.readLimiter.Wait(ctx); err != nil {
		t.receiver.SetError(err)
		return
	}
	release, err := d.admission.Acquire(ctx)
	if err != nil {
		t.receiver.SetError(err)
		return
	}
	defer release()

	d.cfg.Logger.Trace("s3.list.begin",
		"min", t.opts.Range.InclusiveMin,
		"max", t.opts.Range.ExclusiveMax,
		"strip_prefix_length", t.opts.StripPrefixLength,
	)
	for {
		if t.cancelled.Load() {
			t.receiver.SetDone()
			return
		}
		page, err := t.fetchPage(ctx)
		if err != nil {
			if kvstore.IsTransient(err) {
				if berr := t.backoffAndRetry(ctx, err); berr != nil {
					t.receiver.SetError(berr)
					return
				}
				continue
			}
			d.cfg.Logger.Debug("s3.list.error", "error", err)
			t.receiver.SetError(err)
			return
		}
		// A whole page made it through; the next page starts with a
		// fresh retry budget.
		t.attempt = 0

		for _, key := range page.keys {
			if t.cancelled.Load() {
				t.receiver.SetDone()
				return
			}
			if !t.opts.Range.Contains(key) {
				continue
			}
			if n := t.opts.StripPrefixLength; n > 0 && len(key) >= n {
				key = key[n:]
			}
			t.receiver.SetValue(key)
		}

		if !page.truncated {
			d.cfg.Logger.Debug("s3.list.done")
			t.receiver.SetDone()
			return
		}
		t.token = page.token
	}
}

func (t *listTask) fetchPage(ctx context.Context) (listPage, error) {
	d := t.driver
	query := url.Values{}
	query.Set("list-type", "2")
	if prefix := t.opts.Range.Prefix(t.opts.StripPrefixLength); prefix != "" {
		query.Set("prefix", prefix)
	}
	if t.token != "" {
		query.Set("continuation-token", t.token)
	}
	target := d.endpoint + "/?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return listPage{}, fmt.Errorf("s3: build list request: %w", err)
	}
	resp, err := d.signer.Do(ctx, req, emptyPayloadSHA256)
	if err != nil {
		return listPage{}, transportError("list", err)
	}
	payload, err := readBody(resp)
	if err != nil {
		return listPage{}, transportError("list", err)
	}
	if !successStatus(resp.StatusCode) {
		return listPage{}, classifyStatus("list", resp, payload)
	}
	return parseListPage(string(payload))
}
