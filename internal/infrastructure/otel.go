package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ino-taku/mf-importer/internal/config"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
)

const (
	ServiceVersion = "1.0.0"
	MeterName      = "github.com/ino-taku/mf-importer"
)

// OTelProviders holds the OpenTelemetry providers for one run
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Registry       *prometheus.Registry
	Metrics        *RunMetrics
	Logger         *slog.Logger

	cfg       config.TelemetryConfig
	traceFile *os.File
}

// InitializeOTel sets up tracing and metrics. Providers are not installed
// globally; callers pass the tracer and metrics explicitly.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()

	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  metricnoop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
		cfg:    cfg,
	}

	if cfg.Enabled {
		res, err := createResource(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
		if err := providers.initializeTracing(res); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		if err := providers.initializeMetrics(res); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	metrics, err := CreateRunMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	providers.Metrics = metrics

	logger.DebugContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.Bool("enabled", cfg.Enabled),
		slog.String("trace_output", cfg.TraceOutput),
		slog.Bool("push_enabled", cfg.PushgatewayURL != ""))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(cfg config.TelemetryConfig) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

func (p *OTelProviders) initializeTracing(res *resource.Resource) error {
	var w io.Writer

	switch p.cfg.TraceOutput {
	case "stdout":
		w = os.Stdout
	case "file":
		if err := os.MkdirAll(filepath.Dir(p.cfg.TraceFile), 0755); err != nil {
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
		f, err := os.OpenFile(p.cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		p.traceFile = f
		w = f
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace output: %s", p.cfg.TraceOutput)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	p.TracerProvider = tp
	p.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(ServiceVersion))
	return nil
}

func (p *OTelProviders) initializeMetrics(res *resource.Resource) error {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	p.Registry = registry
	p.MeterProvider = mp
	p.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))
	return nil
}

// RunMetrics holds the metrics recorded by a pipeline run
type RunMetrics struct {
	RunsTotal         metric.Int64Counter
	RunDuration       metric.Float64Histogram
	StageDuration     metric.Float64Histogram
	StageErrors       metric.Int64Counter
	LocatorMatches    metric.Int64Counter
	InteractiveLogins metric.Int64Counter
	DownloadedBytes   metric.Int64Counter
	RecordsNormalized metric.Int64Counter
	NullCells         metric.Int64Counter
	RowsPublished     metric.Int64Counter
}

// CreateRunMetrics creates the run instruments on meter
func CreateRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	runsTotal, err := meter.Int64Counter(
		"mfimport_runs_total",
		metric.WithDescription("Total number of pipeline runs"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"mfimport_run_duration_seconds",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"mfimport_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageErrors, err := meter.Int64Counter(
		"mfimport_stage_errors_total",
		metric.WithDescription("Total number of failed pipeline stages"),
	)
	if err != nil {
		return nil, err
	}

	locatorMatches, err := meter.Int64Counter(
		"mfimport_locator_matches_total",
		metric.WithDescription("Export controls found, by strategy"),
	)
	if err != nil {
		return nil, err
	}

	interactiveLogins, err := meter.Int64Counter(
		"mfimport_interactive_logins_total",
		metric.WithDescription("Runs that had to submit the login form"),
	)
	if err != nil {
		return nil, err
	}

	downloadedBytes, err := meter.Int64Counter(
		"mfimport_downloaded_bytes_total",
		metric.WithDescription("Bytes of CSV exports persisted"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	recordsNormalized, err := meter.Int64Counter(
		"mfimport_records_normalized_total",
		metric.WithDescription("Records produced by normalization"),
	)
	if err != nil {
		return nil, err
	}

	nullCells, err := meter.Int64Counter(
		"mfimport_null_cells_total",
		metric.WithDescription("Cells that failed to parse and were left empty"),
	)
	if err != nil {
		return nil, err
	}

	rowsPublished, err := meter.Int64Counter(
		"mfimport_rows_published_total",
		metric.WithDescription("Rows written to the spreadsheet"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		RunsTotal:         runsTotal,
		RunDuration:       runDuration,
		StageDuration:     stageDuration,
		StageErrors:       stageErrors,
		LocatorMatches:    locatorMatches,
		InteractiveLogins: interactiveLogins,
		DownloadedBytes:   downloadedBytes,
		RecordsNormalized: recordsNormalized,
		NullCells:         nullCells,
		RowsPublished:     rowsPublished,
	}, nil
}

// RecordStage records the duration and outcome of one pipeline stage
func (m *RunMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("stage", stage),
		statusAttr(err),
	}
	m.StageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		m.StageErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("error.type", errorType(err)),
		))
	}
}

// RecordRun records the overall outcome of a run
func (m *RunMetrics) RecordRun(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RunsTotal.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
	m.RunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(statusAttr(err)))
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "failure")
	}
	return attribute.String("status", "success")
}

func errorType(err error) string {
	if t := apperrors.TypeOf(err); t != "" {
		return string(t)
	}
	return "INTERNAL"
}

// Push sends the collected metrics to the configured Pushgateway.
// It is a no-op when metrics are disabled or no gateway is configured.
func (p *OTelProviders) Push(ctx context.Context) error {
	if p.Registry == nil || p.cfg.PushgatewayURL == "" {
		return nil
	}

	err := push.New(p.cfg.PushgatewayURL, p.cfg.JobName).
		Gatherer(p.Registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.cfg.PushgatewayURL, err)
	}

	p.Logger.DebugContext(ctx, "Metrics pushed",
		slog.String("pushgateway", p.cfg.PushgatewayURL),
		slog.String("job", p.cfg.JobName))
	return nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if p.traceFile != nil {
		if err := p.traceFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("trace file close: %w", err))
		}
		p.traceFile = nil
	}

	return errors.Join(errs...)
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanAttributes sets attributes on the current span
func SetSpanAttributes(ctx context.Context, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		default:
			span.SetAttributes(attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
}
