// Package s3 implements a key-value store driver backed by S3-compatible
// object storage. Operations are issued as plain HTTP requests signed with
// AWS SigV4; object ETags serve as generations for optimistic concurrency.
// S3 has no conditional PUT or DELETE, so conditional mutations are
// emulated with a HEAD probe before the mutation; the probe narrows but
// does not close the window for concurrent writers.
package s3

import (
	"context"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	"github.com/code4manishk/tensorstore/internal/ratelimit"
	"github.com/code4manishk/tensorstore/kvstore"
)

// Driver is an S3-backed kvstore.Driver. It is safe for concurrent use;
// a Driver must outlive every operation issued against it.
type Driver struct {
	cfg      Config
	endpoint string
	host     string
	region   string

	httpClient   *http.Client
	creds        *credentialCache
	signer       *requestSigner
	readLimiter  ratelimit.Limiter
	writeLimiter ratelimit.Limiter
	admission    *ratelimit.AdmissionQueue
	metrics      *driverMetrics
}

var _ kvstore.Driver = (*Driver)(nil)

// Open validates cfg, resolves the endpoint and returns a ready Driver.
// When neither an endpoint nor a region is configured, the bucket region
// is discovered with a HEAD request against the global virtual-host URL.
func Open(ctx context.Context, cfg Config) (*Driver, error) {
	cfg = cfg.withDefaults()
	if err := s3utils.CheckValidBucketNameStrict(cfg.Bucket); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q: %v", kvstore.ErrInvalidArgument, cfg.Bucket, err)
	}
	d := &Driver{
		cfg:          cfg,
		httpClient:   cfg.HTTPClient,
		readLimiter:  cfg.ReadLimiter,
		writeLimiter: cfg.WriteLimiter,
		admission:    ratelimit.NewAdmissionQueue(cfg.MaxInFlight),
		metrics:      newDriverMetrics(cfg.MeterProvider, cfg.Logger),
	}
	endpoint, host, region, err := resolveEndpoint(ctx, cfg, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	d.endpoint = endpoint
	d.host = host
	d.region = region
	d.creds = newCredentialCache(cfg.Profile, cfg.Credentials, cfg.Logger)
	d.signer = newRequestSigner(d)
	cfg.Logger.Info("s3.driver.open", "bucket", cfg.Bucket, "endpoint", endpoint, "region", region)
	return d, nil
}

// Read fetches the object named by key, subject to opts. A precondition
// that does not hold is reported as ReadStateUnspecified, not as an
// error: with GenerationUnknown when IfEqual failed, and with the
// caller's IfNotEqual generation when IfNotEqual failed.
func (d *Driver) Read(ctx context.Context, key string, opts kvstore.ReadOptions) (kvstore.ReadResult, error) {
	d.metrics.reads.Add(ctx, 1)
	if !kvstore.ValidKey(key) {
		return kvstore.ReadResult{}, fmt.Errorf("%w: invalid object name %q", kvstore.ErrInvalidArgument, key)
	}
	if !opts.IfEqual.IsValid() || !opts.IfNotEqual.IsValid() {
		return kvstore.ReadResult{}, fmt.Errorf("%w: malformed generation", kvstore.ErrInvalidArgument)
	}
	task := &readTask{
		taskBase: taskBase{driver: d, op: "read"},
		key:      key,
		opts:     opts,
	}
	return task.run(ctx)
}

// Write stores value under key, subject to opts. A nil value deletes the
// key. On a precondition failure the returned generation is
// GenerationUnknown and the error is nil.
func (d *Driver) Write(ctx context.Context, key string, value []byte, opts kvstore.WriteOptions) (kvstore.TimestampedGeneration, error) {
	d.metrics.writes.Add(ctx, 1)
	if !kvstore.ValidKey(key) {
		return kvstore.TimestampedGeneration{}, fmt.Errorf("%w: invalid object name %q", kvstore.ErrInvalidArgument, key)
	}
	if !opts.IfEqual.IsValid() {
		return kvstore.TimestampedGeneration{}, fmt.Errorf("%w: malformed generation", kvstore.ErrInvalidArgument)
	}
	if value == nil {
		task := &deleteTask{
			taskBase: taskBase{driver: d, op: "delete"},
			key:      key,
			opts:     opts,
		}
		return task.run(ctx)
	}
	task := &writeTask{
		taskBase: taskBase{driver: d, op: "write"},
		key:      key,
		value:    value,
		opts:     opts,
	}
	return task.run(ctx)
}

// Delete removes key, subject to opts. Equivalent to Write with a nil
// value.
func (d *Driver) Delete(ctx context.Context, key string, opts kvstore.WriteOptions) (kvstore.TimestampedGeneration, error) {
	return d.Write(ctx, key, nil, opts)
}

// List streams the keys in opts.Range to receiver in lexicographic order.
// It blocks until the receiver has observed its terminal events. An empty
// range completes immediately without issuing a request.
func (d *Driver) List(ctx context.Context, opts kvstore.ListOptions, receiver kvstore.FlowReceiver) {
	d.metrics.lists.Add(ctx, 1)
	if opts.Range.Empty() {
		receiver.SetStarting(func() {})
		receiver.SetDone()
		receiver.SetStopping()
		return
	}
	task := &listTask{
		taskBase: taskBase{driver: d, op: "list"},
		opts:     opts,
		receiver: receiver,
	}
	task.run(ctx)
}

// Close releases driver resources. It does not wait for in-flight
// operations; the Driver remains usable by tasks that already hold it.
func (d *Driver) Close() error { return nil }

// Endpoint returns the resolved base URL the driver issues requests
// against.
func (d *Driver) Endpoint() string { return d.endpoint }

// Region returns the SigV4 signing region in use.
func (d *Driver) Region() string { return d.region }

func (d *Driver) objectURL(key string) string {
	return d.endpoint + "/" + s3utils.EncodePath(key)
}
