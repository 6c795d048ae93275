package otel

import (
	"context"
	"fmt"

	otel "go.opentelemetry.io/otel"
	attribute "go.opentelemetry.io/otel/attribute"
	prometheus "go.opentelemetry.io/otel/exporters/prometheus"
	metric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	resource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	zap "go.uber.org/zap"

	config "github.com/i-am-bee/acp-go/server/config"
)

// OpenTelemetry defines the operations for telemetry
type OpenTelemetry interface {
	// Run lifecycle metrics
	RecordRunCreated(ctx context.Context, attrs TelemetryAttributes)
	RecordRunCompleted(ctx context.Context, attrs TelemetryAttributes, status string)
	RecordRunDuration(ctx context.Context, attrs TelemetryAttributes, durationMs float64)
	RecordPartYielded(ctx context.Context, attrs TelemetryAttributes)

	// HTTP request metrics
	RecordResponseStatus(ctx context.Context, attrs TelemetryAttributes, requestMethod, requestPath string, statusCode int)
	RecordRequestDuration(ctx context.Context, attrs TelemetryAttributes, requestMethod, requestPath string, durationMs float64)

	// Shutdown the telemetry system
	ShutDown(ctx context.Context) error
}

type OpenTelemetryImpl struct {
	logger        *zap.Logger
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	// Metrics
	runsCreatedCounter       metric.Int64Counter
	runsCompletedCounter     metric.Int64Counter
	runDurationHistogram     metric.Float64Histogram
	partsYieldedCounter      metric.Int64Counter
	responseStatusCounter    metric.Int64Counter
	requestDurationHistogram metric.Float64Histogram
}

type TelemetryAttributes struct {
	AgentName string
	RunID     string
	Mode      string
}

// NewOpenTelemetry creates a new OpenTelemetry implementation with proper dependency injection
func NewOpenTelemetry(cfg *config.Config, logger *zap.Logger) (OpenTelemetry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	o := &OpenTelemetryImpl{
		logger: logger,
	}

	if err := o.initialize(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize opentelemetry: %w", err)
	}

	return o, nil
}

func (o *OpenTelemetryImpl) initialize(cfg *config.Config) error {
	o.logger.Info("initializing opentelemetry",
		zap.String("agent_name", cfg.AgentName),
		zap.String("version", cfg.AgentVersion))

	exporter, err := prometheus.New()
	if err != nil {
		o.logger.Error("failed to create prometheus exporter", zap.Error(err))
		return err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.AgentName),
		semconv.ServiceVersion(cfg.AgentVersion),
	)

	histogramBoundaries := []float64{1, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500, 5000, 7500, 10000}

	latencyView := sdkmetric.NewView(
		sdkmetric.Instrument{
			Kind: sdkmetric.InstrumentKindHistogram,
		},
		sdkmetric.Stream{
			Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: histogramBoundaries,
			},
		},
	)

	o.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(latencyView),
	)
	otel.SetMeterProvider(o.meterProvider)

	o.meter = o.meterProvider.Meter(cfg.AgentName)

	if err := o.initializeMetrics(); err != nil {
		o.logger.Error("failed to initialize metrics", zap.Error(err))
		return err
	}

	o.logger.Info("opentelemetry initialized successfully")
	return nil
}

func (o *OpenTelemetryImpl) RecordRunCreated(ctx context.Context, attrs TelemetryAttributes) {
	attributes := []attribute.KeyValue{
		attribute.String("agent_name", attrs.AgentName),
	}
	if attrs.Mode != "" {
		attributes = append(attributes, attribute.String("mode", attrs.Mode))
	}

	o.runsCreatedCounter.Add(ctx, 1, metric.WithAttributes(attributes...))
}

func (o *OpenTelemetryImpl) RecordRunCompleted(ctx context.Context, attrs TelemetryAttributes, status string) {
	attributes := []attribute.KeyValue{
		attribute.String("agent_name", attrs.AgentName),
		attribute.String("status", status),
	}

	o.runsCompletedCounter.Add(ctx, 1, metric.WithAttributes(attributes...))
}

func (o *OpenTelemetryImpl) RecordRunDuration(ctx context.Context, attrs TelemetryAttributes, durationMs float64) {
	attributes := []attribute.KeyValue{
		attribute.String("agent_name", attrs.AgentName),
	}

	o.runDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(attributes...))
}

func (o *OpenTelemetryImpl) RecordPartYielded(ctx context.Context, attrs TelemetryAttributes) {
	attributes := []attribute.KeyValue{
		attribute.String("agent_name", attrs.AgentName),
	}

	o.partsYieldedCounter.Add(ctx, 1, metric.WithAttributes(attributes...))
}

func (o *OpenTelemetryImpl) RecordResponseStatus(ctx context.Context, attrs TelemetryAttributes, requestMethod, requestPath string, statusCode int) {
	attributes := []attribute.KeyValue{
		attribute.String("agent_name", attrs.AgentName),
		attribute.String("request_method", requestMethod),
		attribute.String("request_path", requestPath),
		attribute.Int("status_code", statusCode),
	}

	o.responseStatusCounter.Add(ctx, 1, metric.WithAttributes(attributes...))
}

func (o *OpenTelemetryImpl) RecordRequestDuration(ctx context.Context, attrs TelemetryAttributes, requestMethod, requestPath string, durationMs float64) {
	attributes := []attribute.KeyValue{
		attribute.String("agent_name", attrs.AgentName),
		attribute.String("request_method", requestMethod),
		attribute.String("request_path", requestPath),
	}

	o.requestDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(attributes...))
}

func (o *OpenTelemetryImpl) ShutDown(ctx context.Context) error {
	return o.meterProvider.Shutdown(ctx)
}

// initializeMetrics initializes all the OpenTelemetry metrics
func (o *OpenTelemetryImpl) initializeMetrics() error {
	var err error

	o.runsCreatedCounter, err = o.meter.Int64Counter(
		"acp.runs.created.total",
		metric.WithDescription("Total number of runs created"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs created counter: %w", err)
	}

	o.runsCompletedCounter, err = o.meter.Int64Counter(
		"acp.runs.settled.total",
		metric.WithDescription("Total number of runs that reached a terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs settled counter: %w", err)
	}

	o.runDurationHistogram, err = o.meter.Float64Histogram(
		"acp.run.duration",
		metric.WithDescription("Time from run creation to terminal status"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	o.partsYieldedCounter, err = o.meter.Int64Counter(
		"acp.parts.yielded.total",
		metric.WithDescription("Total number of message parts yielded by agents"),
		metric.WithUnit("{part}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create parts yielded counter: %w", err)
	}

	o.responseStatusCounter, err = o.meter.Int64Counter(
		"acp.response_status.total",
		metric.WithDescription("Total number of responses by status code"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create response status counter: %w", err)
	}

	o.requestDurationHistogram, err = o.meter.Float64Histogram(
		"acp.request_duration",
		metric.WithDescription("Duration of HTTP request processing"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	return nil
}
