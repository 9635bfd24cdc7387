package s3

import (
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"
)

const meterName = "github.com/code4manishk/tensorstore/kvstore/s3"

type driverMetrics struct {
	bytesRead    metric.Int64Counter
	bytesWritten metric.Int64Counter
	retries      metric.Int64Counter
	reads        metric.Int64Counter
	writes       metric.Int64Counter
	lists        metric.Int64Counter
	deleteRanges metric.Int64Counter
	readLatency  metric.Int64Histogram
	writeLatency metric.Int64Histogram
}

func newDriverMetrics(provider metric.MeterProvider, logger pslog.Logger) *driverMetrics {
	meter := provider.Meter(meterName)
	m := &driverMetrics{}
	var err error

	m.bytesRead, err = meter.Int64Counter(
		"s3.bytes_read",
		metric.WithDescription("Bytes read by the s3 kvstore driver"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "s3.bytes_read", err)

	m.bytesWritten, err = meter.Int64Counter(
		"s3.bytes_written",
		metric.WithDescription("Bytes written by the s3 kvstore driver"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "s3.bytes_written", err)

	m.retries, err = meter.Int64Counter(
		"s3.retries",
		metric.WithDescription("Count of all retried S3 requests (read/write/delete)"),
	)
	logMetricInitError(logger, "s3.retries", err)

	m.reads, err = meter.Int64Counter(
		"s3.read",
		metric.WithDescription("S3 driver kvstore Read calls"),
	)
	logMetricInitError(logger, "s3.read", err)

	m.writes, err = meter.Int64Counter(
		"s3.write",
		metric.WithDescription("S3 driver kvstore Write calls"),
	)
	logMetricInitError(logger, "s3.write", err)

	m.lists, err = meter.Int64Counter(
		"s3.list",
		metric.WithDescription("S3 driver kvstore List calls"),
	)
	logMetricInitError(logger, "s3.list", err)

	m.deleteRanges, err = meter.Int64Counter(
		"s3.delete_range",
		metric.WithDescription("S3 driver kvstore DeleteRange calls"),
	)
	logMetricInitError(logger, "s3.delete_range", err)

	m.readLatency, err = meter.Int64Histogram(
		"s3.read_latency_ms",
		metric.WithDescription("S3 driver kvstore Read latency"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "s3.read_latency_ms", err)

	m.writeLatency, err = meter.Int64Histogram(
		"s3.write_latency_ms",
		metric.WithDescription("S3 driver kvstore Write latency"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "s3.write_latency_ms", err)

	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err != nil {
		logger.Warn("s3.metrics.init_failed", "metric", name, "error", err)
	}
}
