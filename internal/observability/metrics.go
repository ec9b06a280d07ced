package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service's golden-signal instruments:
// - Latency: how long requests, simulations and queries take
// - Traffic: request, simulation and query throughput
// - Errors: failed requests, simulations and deliveries
// - Saturation: simulations running concurrently, dispatcher queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Simulation metrics (Latency, Traffic, Errors, Saturation)
	SimulationDuration      metric.Float64Histogram
	SimulationsTotal        metric.Int64Counter
	SimulationFailuresTotal metric.Int64Counter
	SimulationsActive       metric.Int64UpDownCounter

	// Query metrics (Latency, Traffic)
	QueryDuration metric.Float64Histogram
	QueriesTotal  metric.Int64Counter

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration   metric.Float64Histogram
	DispatcherDelivered  metric.Int64Counter
	DispatcherFailed     metric.Int64Counter
	DispatcherDropped    metric.Int64Counter
	DispatcherRequeued   metric.Int64Counter
	DispatcherQueueSize  metric.Int64Gauge
	DispatcherBufferSize int64 // config value for saturation calculation
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("simtracker")}
	if err := m.register(); err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func (m *Metrics) register() error {
	var err error
	meter := m.meter

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return err
	}

	if m.SimulationDuration, err = meter.Float64Histogram(
		"simulation_duration_seconds",
		metric.WithDescription("Simulation run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600),
	); err != nil {
		return err
	}
	if m.SimulationsTotal, err = meter.Int64Counter(
		"simulations_total",
		metric.WithDescription("Total number of simulations started"),
	); err != nil {
		return err
	}
	if m.SimulationFailuresTotal, err = meter.Int64Counter(
		"simulation_failures_total",
		metric.WithDescription("Total number of simulations that ended failed"),
	); err != nil {
		return err
	}
	if m.SimulationsActive, err = meter.Int64UpDownCounter(
		"simulations_active",
		metric.WithDescription("Number of currently running simulations (saturation)"),
	); err != nil {
		return err
	}

	if m.QueryDuration, err = meter.Float64Histogram(
		"query_duration_seconds",
		metric.WithDescription("Time spent fulfilling a simulation query"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return err
	}
	if m.QueriesTotal, err = meter.Int64Counter(
		"queries_total",
		metric.WithDescription("Total number of simulation queries by outcome"),
	); err != nil {
		return err
	}

	if m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return err
	}
	if m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	); err != nil {
		return err
	}
	if m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	); err != nil {
		return err
	}
	if m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	); err != nil {
		return err
	}
	if m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	); err != nil {
		return err
	}
	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	return err
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSimulationStarted records a simulation entering the running set.
func (m *Metrics) RecordSimulationStarted(ctx context.Context, key string) {
	attrs := metric.WithAttributes(keyAttr(key))
	m.SimulationsTotal.Add(ctx, 1, attrs)
	m.SimulationsActive.Add(ctx, 1, attrs)
}

// RecordSimulationEnded records a simulation leaving the running set.
func (m *Metrics) RecordSimulationEnded(ctx context.Context, key string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(keyAttr(key), successAttr(success))
	m.SimulationDuration.Record(ctx, duration.Seconds(), attrs)
	m.SimulationsActive.Add(ctx, -1, metric.WithAttributes(keyAttr(key)))

	if !success {
		m.SimulationFailuresTotal.Add(ctx, 1, metric.WithAttributes(keyAttr(key)))
	}
}

// RecordQuery records one fulfilled (or abandoned) query.
func (m *Metrics) RecordQuery(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(outcomeAttr(outcome))
	m.QueryDuration.Record(ctx, duration.Seconds(), attrs)
	m.QueriesTotal.Add(ctx, 1, attrs)
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
