package s3

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/code4manishk/tensorstore/kvstore"
)

// DeleteRange deletes every key in r by listing the range and launching
// one Delete per emitted key. Deletes are not awaited before the next key
// is emitted, so listing can run arbitrarily far ahead of deletion; a
// large range enqueues correspondingly many deletes. Errors are returned
// after all launched deletes have completed: a listing failure takes
// precedence, otherwise the first delete failure is returned.
func (d *Driver) DeleteRange(ctx context.Context, r kvstore.KeyRange) error {
	d.metrics.deleteRanges.Add(ctx, 1)
	if r.Empty() {
		return nil
	}
	receiver := &deleteRangeReceiver{driver: d, ctx: ctx}
	d.List(ctx, kvstore.ListOptions{Range: r}, receiver)
	deleteErr := receiver.group.Wait()
	if receiver.listErr != nil {
		return receiver.listErr
	}
	return deleteErr
}

// deleteRangeReceiver links List output to Delete fan-out.
type deleteRangeReceiver struct {
	driver *Driver
	ctx    context.Context
	group  errgroup.Group

	mu      sync.Mutex
	listErr error
}

func (r *deleteRangeReceiver) SetStarting(cancel func()) {}

func (r *deleteRangeReceiver) SetValue(key string) {
	if key == "" {
		return
	}
	r.group.Go(func() error {
		_, err := r.driver.Delete(r.ctx, key, kvstore.WriteOptions{})
		return err
	})
}

func (r *deleteRangeReceiver) SetError(err error) {
	r.mu.Lock()
	if r.listErr == nil {
		r.listErr = err
	}
	r.mu.Unlock()
}

func (r *deleteRangeReceiver) SetDone() {}

func (r *deleteRangeReceiver) SetStopping() {}
