// Package monitoring 提供日志、指标与分布式追踪的实现
package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

// TracingManager owns the tracer provider of the process. With tracing disabled it
// hands out a noop tracer and Shutdown does nothing.
// TracingManager 持有进程的 TracerProvider；关闭追踪时返回 noop tracer。
type TracingManager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	logger   logger.Logger
}

func NewTracingManager(cfg *config.TracingConfig, log logger.Logger) (*TracingManager, error) {
	log = log.WithComponent("Tracing")
	if !cfg.Enabled {
		return &TracingManager{tracer: noop.NewTracerProvider().Tracer(constants.ServiceName), logger: log}, nil
	}
	if cfg.JaegerEndpoint == "" {
		return nil, fmt.Errorf("tracing.jaeger_endpoint is required when tracing is enabled")
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("keyguard.component", "signing-keys"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)

	// application spans resolve their tracer through otel.Tracer
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(context.Background(), "jaeger exporter configured",
		logger.String("endpoint", cfg.JaegerEndpoint),
		logger.Float64("sample_rate", cfg.SamplingRate),
	)
	return &TracingManager{
		tracer:   provider.Tracer(constants.ServiceName),
		provider: provider,
		logger:   log,
	}, nil
}

// Tracer is used by the HTTP observability middleware.
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// Shutdown flushes pending spans.
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
