package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/code4manishk/tensorstore/kvstore"
)

func newTestDriver(t *testing.T, cfg Config) *Driver {
	t.Helper()
	if cfg.Bucket == "" {
		cfg.Bucket = "test-bucket"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Credentials == nil {
		cfg.Credentials = credentials.NewStaticCredentialsProvider("test", "secret", "")
	}
	if cfg.Retries.MaxRetries == 0 {
		cfg.Retries = RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	}
	driver, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open driver: %v", err)
	}
	return driver
}

func newStubDriver(t *testing.T, handler http.HandlerFunc) *Driver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newTestDriver(t, Config{Endpoint: server.URL})
}

func TestReadMissing(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	before := time.Now()
	result, err := driver.Read(context.Background(), "absent", kvstore.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.State != kvstore.ReadStateMissing {
		t.Fatalf("expected missing, got %v", result.State)
	}
	if !result.Stamp.Generation.IsNoValue() {
		t.Fatalf("expected no-value generation, got %q", result.Stamp.Generation)
	}
	if result.Stamp.Time.Before(before.Add(-time.Second)) {
		t.Fatalf("expected recent stamp time, got %v", result.Stamp.Time)
	}
}

func TestReadNotModified(t *testing.T) {
	gen := kvstore.Generation(`"abc123"`)
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-None-Match"); got != string(gen) {
			t.Errorf("expected If-None-Match %q, got %q", gen, got)
		}
		w.WriteHeader(http.StatusNotModified)
	})
	result, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{IfNotEqual: gen})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.State != kvstore.ReadStateUnspecified {
		t.Fatalf("expected unspecified, got %v", result.State)
	}
	if result.Stamp.Generation != gen {
		t.Fatalf("expected caller's generation echoed, got %q", result.Stamp.Generation)
	}
}

func TestReadPreconditionFailed(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-Match"); got != `"g1"` {
			t.Errorf("expected If-Match %q, got %q", `"g1"`, got)
		}
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	result, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{IfEqual: `"g1"`})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.State != kvstore.ReadStateUnspecified {
		t.Fatalf("expected unspecified, got %v", result.State)
	}
	if !result.Stamp.Generation.IsUnknown() {
		t.Fatalf("expected unknown generation, got %q", result.Stamp.Generation)
	}
}

func TestReadRange(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 100)
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "bytes=100-199" {
			t.Errorf("expected Range bytes=100-199, got %q", got)
		}
		w.Header().Set("Content-Range", "bytes 100-199/500")
		w.Header().Set("Etag", `"etag-1"`)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	})
	result, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{
		ByteRange: kvstore.ByteRange{InclusiveMin: 100, ExclusiveMax: 200},
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.State != kvstore.ReadStateValue {
		t.Fatalf("expected value, got %v", result.State)
	}
	if !bytes.Equal(result.Value, body) {
		t.Fatalf("expected %d payload bytes, got %d", len(body), len(result.Value))
	}
	if result.Stamp.Generation != `"etag-1"` {
		t.Fatalf("expected etag generation, got %q", result.Stamp.Generation)
	}
}

func TestReadRangeServerReturnsWholeObject(t *testing.T) {
	full := make([]byte, 500)
	for i := range full {
		full[i] = byte(i)
	}
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", `"etag-2"`)
		w.WriteHeader(http.StatusOK)
		w.Write(full)
	})
	result, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{
		ByteRange: kvstore.ByteRange{InclusiveMin: 100, ExclusiveMax: 200},
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(result.Value, full[100:200]) {
		t.Fatalf("expected sub-slice [100,200), got %d bytes", len(result.Value))
	}
}

func TestReadRangeMismatch(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 50-149/500")
		w.Header().Set("Etag", `"etag-3"`)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(bytes.Repeat([]byte("x"), 100))
	})
	_, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{
		ByteRange: kvstore.ByteRange{InclusiveMin: 100, ExclusiveMax: 200},
	})
	if !errors.Is(err, kvstore.ErrOutOfRange) {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
}

func TestReadRangeBeyondObject(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", `"etag-4"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("short"))
	})
	_, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{
		ByteRange: kvstore.ByteRange{InclusiveMin: 100, ExclusiveMax: 200},
	})
	if !errors.Is(err, kvstore.ErrOutOfRange) {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
}

func TestReadInvalidKey(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an invalid key")
	})
	for _, key := range []string{"", "ctl\x01char", strings.Repeat("k", kvstore.MaxKeyLength+1)} {
		if _, err := driver.Read(context.Background(), key, kvstore.ReadOptions{}); !errors.Is(err, kvstore.ErrInvalidArgument) {
			t.Fatalf("key %q: expected invalid-argument, got %v", key, err)
		}
	}
}

func TestWriteUnconditional(t *testing.T) {
	var gotBody []byte
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("expected octet-stream content type, got %q", ct)
		}
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		w.Header().Set("Etag", `"w1"`)
		w.WriteHeader(http.StatusOK)
	})
	stamp, err := driver.Write(context.Background(), "key", []byte("payload"), kvstore.WriteOptions{})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if stamp.Generation != `"w1"` {
		t.Fatalf("expected generation %q, got %q", `"w1"`, stamp.Generation)
	}
	if string(gotBody) != "payload" {
		t.Fatalf("expected body %q, got %q", "payload", gotBody)
	}
}

func TestWriteIfNotExistsOnExistingObject(t *testing.T) {
	var puts atomic.Int64
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			if got := r.Header.Get("If-Match"); got != `""` {
				t.Errorf("expected empty-etag If-Match, got %q", got)
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			puts.Add(1)
			w.WriteHeader(http.StatusOK)
		}
	})
	stamp, err := driver.Write(context.Background(), "key", []byte("v"), kvstore.WriteOptions{IfEqual: kvstore.GenerationNoValue})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !stamp.Generation.IsUnknown() {
		t.Fatalf("expected precondition failure, got generation %q", stamp.Generation)
	}
	if n := puts.Load(); n != 0 {
		t.Fatalf("expected no PUT after failed probe, got %d", n)
	}
}

func TestWriteIfNotExistsOnAbsentObject(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			w.Header().Set("Etag", `"fresh"`)
			w.WriteHeader(http.StatusOK)
		}
	})
	stamp, err := driver.Write(context.Background(), "key", []byte("v"), kvstore.WriteOptions{IfEqual: kvstore.GenerationNoValue})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if stamp.Generation != `"fresh"` {
		t.Fatalf("expected fresh generation, got %q", stamp.Generation)
	}
}

func TestWriteConditionalStaleGeneration(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected only HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	stamp, err := driver.Write(context.Background(), "key", []byte("v"), kvstore.WriteOptions{IfEqual: `"stale"`})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !stamp.Generation.IsUnknown() {
		t.Fatalf("expected precondition failure, got generation %q", stamp.Generation)
	}
}

func TestWriteConditionalVanishedBeforePut(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	stamp, err := driver.Write(context.Background(), "key", []byte("v"), kvstore.WriteOptions{IfEqual: `"g1"`})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !stamp.Generation.IsUnknown() {
		t.Fatalf("expected precondition failure, got generation %q", stamp.Generation)
	}
}

func TestWriteRetriesTransientStatus(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Etag", `"final"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	driver := newTestDriver(t, Config{Endpoint: server.URL, MeterProvider: provider})

	stamp, err := driver.Write(context.Background(), "key", []byte("v"), kvstore.WriteOptions{})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if stamp.Generation != `"final"` {
		t.Fatalf("expected final generation, got %q", stamp.Generation)
	}
	if n := attempts.Load(); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	if got := counterValue(t, rm, "s3.retries"); got != 1 {
		t.Fatalf("expected 1 retry recorded, got %d", got)
	}
	if got := histogramCount(t, rm, "s3.write_latency_ms"); got != 1 {
		t.Fatalf("expected exactly one latency observation, got %d", got)
	}
}

func TestWriteRetryBudgetExhausted(t *testing.T) {
	var attempts atomic.Int64
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := driver.Write(context.Background(), "key", []byte("v"), kvstore.WriteOptions{})
	if !errors.Is(err, kvstore.ErrAborted) {
		t.Fatalf("expected aborted error, got %v", err)
	}
	if n := attempts.Load(); n != 4 {
		t.Fatalf("expected initial attempt plus 3 retries, got %d", n)
	}
}

func TestDeleteAbsentObject(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	})
	stamp, err := driver.Delete(context.Background(), "key", kvstore.WriteOptions{})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !stamp.Generation.IsNoValue() {
		t.Fatalf("expected no-value generation, got %q", stamp.Generation)
	}
}

func TestDeleteStaleGeneration(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected only HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	stamp, err := driver.Delete(context.Background(), "key", kvstore.WriteOptions{IfEqual: `"stale"`})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !stamp.Generation.IsUnknown() {
		t.Fatalf("expected precondition failure, got generation %q", stamp.Generation)
	}
}

func TestDeleteConditionalVanishedBeforeDelete(t *testing.T) {
	driver := newStubDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	stamp, err := driver.Delete(context.Background(), "key", kvstore.WriteOptions{IfEqual: `"g1"`})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !stamp.Generation.IsUnknown() {
		t.Fatalf("expected precondition failure, got generation %q", stamp.Generation)
	}
}

func TestRequesterPaysHeader(t *testing.T) {
	var sawHeader atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-amz-request-payer") == "requester" {
			sawHeader.Store(true)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	driver := newTestDriver(t, Config{Endpoint: server.URL, RequesterPays: true})
	if _, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !sawHeader.Load() {
		t.Fatal("expected x-amz-request-payer header")
	}
}

func TestSignedRequestCarriesAuthorization(t *testing.T) {
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		if r.Header.Get("X-Amz-Content-Sha256") == "" {
			t.Error("expected payload hash header")
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	driver := newTestDriver(t, Config{Endpoint: server.URL})
	if _, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{}); err != nil {
		t.Fatalf("read: %v", err)
	}
	header, _ := auth.Load().(string)
	if !strings.HasPrefix(header, "AWS4-HMAC-SHA256") {
		t.Fatalf("expected SigV4 authorization, got %q", header)
	}
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 histogram", name)
			}
			var total uint64
			for _, dp := range hist.DataPoints {
				total += dp.Count
			}
			return total
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		value   string
		first   int64
		last    int64
		total   int64
		wantErr bool
	}{
		{value: "bytes 100-199/500", first: 100, last: 199, total: 500},
		{value: "bytes 0-0/1", first: 0, last: 0, total: 1},
		{value: "bytes 10-19/*", first: 10, last: 19, total: -1},
		{value: "items 1-2/3", wantErr: true},
		{value: "bytes 1-2", wantErr: true},
		{value: "bytes x-2/3", wantErr: true},
		{value: "", wantErr: true},
	}
	for _, tc := range tests {
		first, last, total, err := parseContentRange(tc.value)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.value, err)
		}
		if first != tc.first || last != tc.last || total != tc.total {
			t.Fatalf("%q: expected (%d,%d,%d), got (%d,%d,%d)", tc.value, tc.first, tc.last, tc.total, first, last, total)
		}
	}
}

func TestPayloadSHA256(t *testing.T) {
	if got := payloadSHA256(nil); got != emptyPayloadSHA256 {
		t.Fatalf("empty payload hash mismatch: %s", got)
	}
	if got := payloadSHA256([]byte("abc")); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("abc hash mismatch: %s", got)
	}
}

func TestGenerationHeaderEncoding(t *testing.T) {
	h := http.Header{}
	if addGenerationHeader(h, "If-Match", kvstore.GenerationUnknown) {
		t.Fatal("unknown generation must omit the header")
	}
	if got := h.Get("If-Match"); got != "" {
		t.Fatalf("expected no header, got %q", got)
	}
	addGenerationHeader(h, "If-Match", kvstore.GenerationNoValue)
	if got := h.Get("If-Match"); got != `""` {
		t.Fatalf("expected empty etag, got %q", got)
	}
	addGenerationHeader(h, "If-Match", kvstore.Generation(`"v1"`))
	if got := h.Get("If-Match"); got != `"v1"` {
		t.Fatalf("expected etag passthrough, got %q", got)
	}
}

func TestOpenRejectsInvalidBucket(t *testing.T) {
	for _, bucket := range []string{"", "ab", "UPPER", "192.168.0.1", strings.Repeat("b", 64)} {
		_, err := Open(context.Background(), Config{Bucket: bucket, Endpoint: "http://localhost:1", Region: "us-east-1"})
		if !errors.Is(err, kvstore.ErrInvalidArgument) {
			t.Fatalf("bucket %q: expected invalid-argument, got %v", bucket, err)
		}
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       http.NoBody,
	}
}

func TestOpenDiscoversBucketRegion(t *testing.T) {
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		if r.URL.Host != "test-bucket.s3.amazonaws.com" {
			t.Errorf("expected global virtual-host URL, got %s", r.URL.Host)
		}
		header := http.Header{}
		header.Set("x-amz-bucket-region", "eu-west-1")
		return stubResponse(http.StatusOK, header), nil
	})}
	driver, err := Open(context.Background(), Config{
		Bucket:      "test-bucket",
		HTTPClient:  client,
		Credentials: credentials.NewStaticCredentialsProvider("test", "secret", ""),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if driver.Region() != "eu-west-1" {
		t.Fatalf("expected discovered region eu-west-1, got %q", driver.Region())
	}
	if driver.Endpoint() != "https://test-bucket.s3.eu-west-1.amazonaws.com" {
		t.Fatalf("unexpected endpoint %q", driver.Endpoint())
	}
}

func TestOpenMissingBucketRegion(t *testing.T) {
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusNotFound, nil), nil
	})}
	_, err := Open(context.Background(), Config{Bucket: "test-bucket", HTTPClient: client})
	if !errors.Is(err, kvstore.ErrFailedPrecondition) {
		t.Fatalf("expected failed-precondition, got %v", err)
	}
}

func TestOpenEndpointValidation(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "bad scheme", endpoint: "ftp://example.com"},
		{name: "query", endpoint: "https://example.com?x=1"},
		{name: "fragment", endpoint: "https://example.com#frag"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(context.Background(), Config{Bucket: "test-bucket", Endpoint: tc.endpoint})
			if !errors.Is(err, kvstore.ErrInvalidArgument) {
				t.Fatalf("expected invalid-argument, got %v", err)
			}
		})
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{url: "s3://my-bucket/some/key", bucket: "my-bucket", key: "some/key"},
		{url: "s3://my-bucket/", bucket: "my-bucket", key: ""},
		{url: "s3://my-bucket/k%20v", bucket: "my-bucket", key: "k v"},
		{url: "s3://my-bucket/key?query=1", wantErr: true},
		{url: "s3://my-bucket/key#frag", wantErr: true},
		{url: "s3://UPPER/key", wantErr: true},
		{url: "https://my-bucket/key", wantErr: true},
	}
	for _, tc := range tests {
		bucket, key, err := ParseURL(tc.url)
		if tc.wantErr {
			if !errors.Is(err, kvstore.ErrInvalidArgument) {
				t.Fatalf("%q: expected invalid-argument, got %v", tc.url, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.url, err)
		}
		if bucket != tc.bucket || key != tc.key {
			t.Fatalf("%q: expected (%q,%q), got (%q,%q)", tc.url, tc.bucket, tc.key, bucket, key)
		}
	}
}

type failingCredentials struct{ err error }

func (f failingCredentials) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return aws.Credentials{}, f.err
}

func TestAnonymousModeSkipsSigning(t *testing.T) {
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	driver := newTestDriver(t, Config{
		Endpoint: server.URL,
		Credentials: failingCredentials{err: fmt.Errorf("no credentials configured")},
	})
	if _, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if header, _ := auth.Load().(string); header != "" {
		t.Fatalf("expected unsigned request, got Authorization %q", header)
	}
	// The failure is memoized: a second read stays anonymous without
	// consulting the provider again.
	if _, err := driver.Read(context.Background(), "key", kvstore.ReadOptions{}); err != nil {
		t.Fatalf("second read: %v", err)
	}
}
