package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// HTTPMetrics records finished requests.
type HTTPMetrics interface {
	RecordHTTPRequest(route, method string, status int, duration time.Duration)
}

// RequestID propagates the caller's X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(string(constants.ContextKeyRequestID), id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, id))
		c.Next()
	}
}

// Observability starts a server span per request, records the request metrics and
// writes one access log line.
// Observability 为每个请求开启服务端 span，记录请求指标并输出一条访问日志。
func Observability(tracer trace.Tracer, metrics HTTPMetrics, log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("HTTP")
	return func(c *gin.Context) {
		start := time.Now()

		// Route templates keep the span name and metric labels low-cardinality.
		route := c.FullPath()
		if route == "" {
			route = "not_found"
		}
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		duration := time.Since(start)
		if metrics != nil {
			metrics.RecordHTTPRequest(route, c.Request.Method, status, duration)
		}
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}

		log.Info(ctx, "request processed",
			logger.String("method", c.Request.Method),
			logger.String("route", route),
			logger.Int("status", status),
			logger.Int64("latency_ms", duration.Milliseconds()),
			logger.String("client_ip", c.ClientIP()),
		)
	}
}
