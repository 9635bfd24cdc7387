package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"pkt.systems/pslog"

	"github.com/code4manishk/tensorstore/internal/ratelimit"
	"github.com/code4manishk/tensorstore/kvstore"
	s3kv "github.com/code4manishk/tensorstore/kvstore/s3"
)

type app struct {
	v      *viper.Viper
	logger pslog.Logger

	meterProvider *sdkmetric.MeterProvider
	metricsServer *http.Server
}

func newRootCommand(logger pslog.Logger) *cobra.Command {
	a := &app{v: viper.New(), logger: logger}
	root := &cobra.Command{
		Use:           "s3kv",
		Short:         "Key-value operations against an S3 bucket",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configureLogger()
		},
	}
	flags := root.PersistentFlags()
	flags.String("store", "", "target store URL, s3://bucket")
	flags.String("endpoint", "", "override the S3 endpoint base URL")
	flags.String("region", "", "SigV4 region; discovered from the bucket when empty")
	flags.String("profile", "default", "credential profile")
	flags.Bool("requester-pays", false, "bill requests to the requester")
	flags.String("log-level", "info", "trace, debug, info, warn, error or disabled")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address")
	flags.Int("max-retries", 0, "retry budget per operation")
	flags.Int64("max-in-flight", 0, "concurrent request cap")
	flags.Float64("read-rps", 0, "read admission rate in requests per second")
	flags.Float64("write-rps", 0, "write admission rate in requests per second")

	bindEnv(a.v, flags)

	root.AddCommand(
		newGetCommand(a),
		newPutCommand(a),
		newRmCommand(a),
		newLsCommand(a),
		newRmRangeCommand(a),
	)
	return root
}

// bindEnv layers S3KV_* environment variables under the flags, so
// S3KV_STORE and --store resolve through the same key.
func bindEnv(v *viper.Viper, flags *pflag.FlagSet) {
	v.SetEnvPrefix("S3KV")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
}

func (a *app) configureLogger() error {
	levelStr := strings.TrimSpace(a.v.GetString("log-level"))
	if levelStr == "" {
		return nil
	}
	level, ok := pslog.ParseLevel(levelStr)
	if !ok {
		return fmt.Errorf("log-level: invalid value %q", levelStr)
	}
	a.logger = a.logger.LogLevel(level)
	return nil
}

// openDriver builds the driver from flags and environment, optionally
// starting the metrics listener. Callers run the returned cleanup once
// the operation finished.
func (a *app) openDriver(ctx context.Context) (*s3kv.Driver, func(), error) {
	store := strings.TrimSpace(a.v.GetString("store"))
	if store == "" {
		return nil, nil, errors.New("--store is required (s3://bucket)")
	}
	bucket, key, err := s3kv.ParseURL(store)
	if err != nil {
		return nil, nil, err
	}
	if key != "" {
		return nil, nil, fmt.Errorf("store URL must name a bucket, not an object: %q", store)
	}

	cfg := s3kv.Config{
		Bucket:        bucket,
		Endpoint:      a.v.GetString("endpoint"),
		Region:        a.v.GetString("region"),
		Profile:       a.v.GetString("profile"),
		RequesterPays: a.v.GetBool("requester-pays"),
		MaxInFlight:   a.v.GetInt64("max-in-flight"),
		Retries:       s3kv.RetryConfig{MaxRetries: a.v.GetInt("max-retries")},
		Logger:        a.logger,
	}
	if rps := a.v.GetFloat64("read-rps"); rps > 0 {
		cfg.ReadLimiter = ratelimit.NewTokenBucket(rps, int(rps)+1)
	}
	if rps := a.v.GetFloat64("write-rps"); rps > 0 {
		cfg.WriteLimiter = ratelimit.NewTokenBucket(rps, int(rps)+1)
	}
	if err := a.startTelemetry(); err != nil {
		return nil, nil, err
	}
	if a.meterProvider != nil {
		cfg.MeterProvider = a.meterProvider
	}

	driver, err := s3kv.Open(ctx, cfg)
	if err != nil {
		a.stopTelemetry()
		return nil, nil, err
	}
	cleanup := func() {
		_ = driver.Close()
		a.stopTelemetry()
	}
	return driver, cleanup, nil
}

func (a *app) startTelemetry() error {
	addr := strings.TrimSpace(a.v.GetString("metrics-listen"))
	if addr == "" {
		return nil
	}
	exporter, err := otelprometheus.New()
	if err != nil {
		return fmt.Errorf("metrics exporter: %w", err)
	}
	a.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	a.metricsServer = &http.Server{Addr: addr, Handler: promhttp.Handler()}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("s3kv.metrics.listen_failed", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("s3kv.metrics.listening", "addr", addr)
	return nil
}

func (a *app) stopTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
		a.metricsServer = nil
	}
	if a.meterProvider != nil {
		_ = a.meterProvider.Shutdown(ctx)
		a.meterProvider = nil
	}
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

// generationFlag maps the optional --if-match / --if-not-exists flags to
// a write condition.
func generationFlag(cmd *cobra.Command) (kvstore.Generation, error) {
	ifNotExists, _ := cmd.Flags().GetBool("if-not-exists")
	ifMatch, _ := cmd.Flags().GetString("if-match")
	if ifNotExists && ifMatch != "" {
		return kvstore.GenerationUnknown, errors.New("--if-not-exists and --if-match are mutually exclusive")
	}
	if ifNotExists {
		return kvstore.GenerationNoValue, nil
	}
	return kvstore.Generation(ifMatch), nil
}
