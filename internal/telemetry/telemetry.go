package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsPaused    metric.Int64Counter
	NodesExecuted       metric.Int64Counter
	BreakerTrips        metric.Int64Counter
	ChildrenSpawned     metric.Int64Counter
	NodeLatency         metric.Float64Histogram
)

// InitTelemetry initializes OpenTelemetry tracing and metrics
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	ExecutionsStarted, err = Meter.Int64Counter(
		"quill.executions.started",
		metric.WithDescription("Number of workflow executions started"),
	)
	if err != nil {
		return err
	}

	ExecutionsCompleted, err = Meter.Int64Counter(
		"quill.executions.completed",
		metric.WithDescription("Number of workflow executions reaching a terminal node"),
	)
	if err != nil {
		return err
	}

	ExecutionsPaused, err = Meter.Int64Counter(
		"quill.executions.paused",
		metric.WithDescription("Number of executions suspended for human input"),
	)
	if err != nil {
		return err
	}

	NodesExecuted, err = Meter.Int64Counter(
		"quill.nodes.executed",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return err
	}

	BreakerTrips, err = Meter.Int64Counter(
		"quill.breaker.trips",
		metric.WithDescription("Number of circuit breaker force-routes to the blocked terminal"),
	)
	if err != nil {
		return err
	}

	ChildrenSpawned, err = Meter.Int64Counter(
		"quill.children.spawned",
		metric.WithDescription("Number of child documents created or updated"),
	)
	if err != nil {
		return err
	}

	NodeLatency, err = Meter.Float64Histogram(
		"quill.node.latency",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Add increments a counter when telemetry is initialized, and is a no-op
// otherwise so library code never needs a nil check.
func Add(ctx context.Context, counter metric.Int64Counter, value int64) {
	if counter != nil {
		counter.Add(ctx, value)
	}
}

// Record captures a histogram sample when telemetry is initialized.
func Record(ctx context.Context, hist metric.Float64Histogram, value float64) {
	if hist != nil {
		hist.Record(ctx, value)
	}
}
