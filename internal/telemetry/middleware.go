// Package telemetry provides HTTP middleware for observability
package telemetry

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMetrics holds HTTP-specific metrics.
type HTTPMetrics struct {
	requestCounter  metric.Int64Counter
	requestDuration metric.Float64Histogram
	responseSize    metric.Int64Histogram
}

// NewHTTPMetrics creates HTTP metrics on the provider's meter.
func (p *Provider) NewHTTPMetrics() (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	var err error

	m.requestCounter, err = p.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = p.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
	)
	if err != nil {
		return nil, err
	}

	m.responseSize, err = p.meter.Int64Histogram(
		"http_response_size_bytes",
		metric.WithDescription("HTTP response size"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Middleware returns gin middleware recording a span plus request metrics
// for every API call.
func (m *HTTPMetrics) Middleware(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx, span := tracer.Start(c.Request.Context(), c.FullPath(),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.url", c.Request.URL.String()),
				attribute.String("http.user_agent", c.Request.UserAgent()),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		duration := time.Since(start)
		attrs := []attribute.KeyValue{
			attribute.String("method", c.Request.Method),
			attribute.String("path", c.FullPath()),
			attribute.Int("status", c.Writer.Status()),
		}

		m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
		m.responseSize.Record(ctx, int64(c.Writer.Size()), metric.WithAttributes(attrs...))

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
	}
}
