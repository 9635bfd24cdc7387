package s3

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/minio/minio-go/v7/pkg/s3utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"

	"github.com/code4manishk/tensorstore/internal/clock"
	"github.com/code4manishk/tensorstore/internal/ratelimit"
	"github.com/code4manishk/tensorstore/kvstore"
)

const (
	uriScheme            = "s3"
	amazonAwsSuffix      = ".amazonaws.com"
	bucketRegionHeader   = "x-amz-bucket-region"
	requesterPaysHeader  = "x-amz-request-payer"
	requesterPaysValue   = "requester"
	defaultProfile       = "default"
	defaultMaxInFlight   = 32
	defaultMaxRetries    = 32
	defaultInitialDelay  = time.Second
	defaultMaxRetryDelay = 32 * time.Second
)

// RetryConfig bounds the per-task retry loop.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// InitialDelay seeds the exponential backoff schedule.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// Config controls the behaviour of the S3 driver.
type Config struct {
	// Bucket is the target bucket. Required.
	Bucket string
	// Endpoint, when set, is the full base URL overriding the default
	// virtual-host addressing. http and https schemes only; query and
	// fragment are rejected. A path component is allowed, so path-style
	// endpoints such as "http://minio:9000/bucket" work.
	Endpoint string
	// Host overrides the Host header (and SigV4 host). Derived from the
	// endpoint authority when empty.
	Host string
	// Region is the SigV4 signing region. When neither Endpoint nor
	// Region is set the region is discovered at Open time with a HEAD
	// against the global virtual-host URL.
	Region string
	// Profile selects the shared-config credential profile. Defaults to
	// "default".
	Profile string
	// RequesterPays adds x-amz-request-payer: requester to every
	// request.
	RequesterPays bool

	// MaxInFlight caps the number of concurrently executing tasks.
	MaxInFlight int64
	// ReadLimiter rate-limits Read and List admission. Defaults to a
	// no-op limiter.
	ReadLimiter ratelimit.Limiter
	// WriteLimiter rate-limits Write and Delete admission. Defaults to a
	// no-op limiter.
	WriteLimiter ratelimit.Limiter
	// Retries bounds the per-task retry loop.
	Retries RetryConfig

	// HTTPClient issues the driver's requests. Defaults to a client with
	// a tuned transport clone.
	HTTPClient *http.Client
	// Credentials overrides the shared-config credential chain. Mostly
	// useful for tests and fixed-credential deployments.
	Credentials aws.CredentialsProvider
	// MeterProvider supplies the driver's metric instruments. Defaults
	// to the global provider.
	MeterProvider metric.MeterProvider
	// Logger receives driver events. Defaults to a no-op logger.
	Logger pslog.Logger
	// Clock abstracts time for backoff and timestamps. Defaults to the
	// real clock.
	Clock clock.Clock
}

func (c Config) withDefaults() Config {
	if c.Profile == "" {
		c.Profile = defaultProfile
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	if c.ReadLimiter == nil {
		c.ReadLimiter = ratelimit.NopLimiter{}
	}
	if c.WriteLimiter == nil {
		c.WriteLimiter = ratelimit.NopLimiter{}
	}
	if c.Retries.MaxRetries <= 0 {
		c.Retries.MaxRetries = defaultMaxRetries
	}
	if c.Retries.InitialDelay <= 0 {
		c.Retries.InitialDelay = defaultInitialDelay
	}
	if c.Retries.MaxDelay <= 0 {
		c.Retries.MaxDelay = defaultMaxRetryDelay
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Transport: defaultTransport()}
	}
	if c.MeterProvider == nil {
		c.MeterProvider = otel.GetMeterProvider()
	}
	if c.Logger == nil {
		c.Logger = pslog.NoopLogger()
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	return c
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	if clone.ExpectContinueTimeout == 0 {
		clone.ExpectContinueTimeout = 1 * time.Second
	}
	return clone
}

// resolveEndpoint produces the base URL, Host header value and region for
// the driver, per the precedence explicit endpoint > configured region >
// HEAD-based bucket-region discovery.
func resolveEndpoint(ctx context.Context, cfg Config, client *http.Client) (endpoint, host, region string, err error) {
	if cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil {
			return "", "", "", fmt.Errorf("%w: endpoint %q: %v", kvstore.ErrInvalidArgument, cfg.Endpoint, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", "", "", fmt.Errorf("%w: endpoint %q has invalid scheme %q, should be http(s)", kvstore.ErrInvalidArgument, cfg.Endpoint, u.Scheme)
		}
		if u.RawQuery != "" {
			return "", "", "", fmt.Errorf("%w: query in endpoint unsupported: %q", kvstore.ErrInvalidArgument, cfg.Endpoint)
		}
		if u.Fragment != "" {
			return "", "", "", fmt.Errorf("%w: fragment in endpoint unsupported: %q", kvstore.ErrInvalidArgument, cfg.Endpoint)
		}
		host = cfg.Host
		if host == "" {
			host = u.Host
		}
		return strings.TrimSuffix(cfg.Endpoint, "/"), host, cfg.Region, nil
	}
	if cfg.Region != "" {
		authority := fmt.Sprintf("%s.s3.%s%s", cfg.Bucket, cfg.Region, amazonAwsSuffix)
		host = authority
		if cfg.Host != "" {
			host = cfg.Host
		}
		return "https://" + authority, host, cfg.Region, nil
	}
	region, err = discoverBucketRegion(ctx, cfg, client)
	if err != nil {
		return "", "", "", err
	}
	host = fmt.Sprintf("%s.s3.%s%s", cfg.Bucket, region, amazonAwsSuffix)
	return "https://" + host, host, region, nil
}

// discoverBucketRegion issues an unauthenticated HEAD against the global
// virtual-host URL and reads the x-amz-bucket-region response header. It
// runs at Open time; deferring it to the first operation is a known
// follow-up.
func discoverBucketRegion(ctx context.Context, cfg Config, client *http.Client) (string, error) {
	target := fmt.Sprintf("https://%s.s3%s", cfg.Bucket, amazonAwsSuffix)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return "", fmt.Errorf("s3: build region discovery request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("s3: discover bucket region: %w", err)
	}
	defer resp.Body.Close()
	region := resp.Header.Get(bucketRegionHeader)
	if region == "" {
		return "", fmt.Errorf("%w: bucket %q does not exist", kvstore.ErrFailedPrecondition, cfg.Bucket)
	}
	return region, nil
}

// ParseURL splits an "s3://bucket/key" URL into its bucket and
// percent-decoded key. Query strings and fragments are rejected.
func ParseURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", kvstore.ErrInvalidArgument, err)
	}
	if u.Scheme != uriScheme {
		return "", "", fmt.Errorf("%w: URL %q is not an s3:// URL", kvstore.ErrInvalidArgument, raw)
	}
	if u.RawQuery != "" {
		return "", "", fmt.Errorf("%w: query string not supported: %q", kvstore.ErrInvalidArgument, raw)
	}
	if u.Fragment != "" {
		return "", "", fmt.Errorf("%w: fragment identifier not supported: %q", kvstore.ErrInvalidArgument, raw)
	}
	bucket = u.Host
	if err := s3utils.CheckValidBucketNameStrict(bucket); err != nil {
		return "", "", fmt.Errorf("%w: invalid bucket name %q: %v", kvstore.ErrInvalidArgument, bucket, err)
	}
	return bucket, strings.TrimPrefix(u.Path, "/"), nil
}
