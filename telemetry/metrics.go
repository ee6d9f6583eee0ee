// Package telemetry provides Prometheus metrics, OpenTelemetry tracing setup,
// and correlation-id aware context helpers.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesCaptured prometheus.Counter
	FlushesTotal     prometheus.Counter
	FlushFailures    prometheus.Counter
	RowsWritten      prometheus.Counter

	// Histograms (seconds)
	FlushDuration prometheus.Observer

	// Gauges
	SessionsActiveGauge prometheus.Gauge
	BufferDepthGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesCaptured = promauto.NewCounter(prometheus.CounterOpts{Name: "capture_messages_total", Help: "Number of chat messages captured"})
		FlushesTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "capture_flushes_total", Help: "Number of successful buffer flushes"})
		FlushFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "capture_flush_failures_total", Help: "Number of failed buffer flushes (retried)"})
		RowsWritten = promauto.NewCounter(prometheus.CounterOpts{Name: "capture_rows_written_total", Help: "Number of rows written to sinks"})
		FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "capture_flush_duration_seconds", Help: "Sink flush duration seconds", Buckets: prometheus.DefBuckets})
		SessionsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "capture_sessions_active", Help: "Number of capture sessions currently running"})
		BufferDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "capture_buffer_depth", Help: "Records buffered and not yet flushed"})
	})
}

// SessionStarted increments the active-sessions gauge.
func SessionStarted() {
	if SessionsActiveGauge != nil {
		SessionsActiveGauge.Inc()
	}
}

// SessionEnded decrements the active-sessions gauge.
func SessionEnded() {
	if SessionsActiveGauge != nil {
		SessionsActiveGauge.Dec()
	}
}

// CountMessage records one captured message.
func CountMessage() {
	if MessagesCaptured != nil {
		MessagesCaptured.Inc()
	}
}

// ObserveFlush records a successful flush of n rows taking d.
func ObserveFlush(d time.Duration, n int) {
	if FlushesTotal != nil {
		FlushesTotal.Inc()
	}
	if RowsWritten != nil {
		RowsWritten.Add(float64(n))
	}
	if FlushDuration != nil {
		FlushDuration.Observe(d.Seconds())
	}
}

// CountFlushFailure records a failed (to-be-retried) flush.
func CountFlushFailure() {
	if FlushFailures != nil {
		FlushFailures.Inc()
	}
}

// SetBufferDepth records the current unflushed record count.
func SetBufferDepth(n int) {
	if BufferDepthGauge != nil {
		BufferDepthGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}
