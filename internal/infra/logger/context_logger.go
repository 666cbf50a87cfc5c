// ABOUTME: This file provides context-aware structured logging for insight lifecycle observability
// ABOUTME: Supports client ID, metric name, period, and operation ID propagation with JSON output format
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ContextKey string

const (
	// Business context keys for insight lifecycle observability
	ClientIDKey    ContextKey = "insight.client.id"
	MetricKey      ContextKey = "insight.metric"
	PeriodKey      ContextKey = "insight.period"
	OperationIDKey ContextKey = "insight.operation.id"
)

// ContextLogger provides context-aware logging with business context
type ContextLogger struct {
	logger      *slog.Logger
	serviceName string
}

// NewContextLogger creates a new context-aware logger
func NewContextLogger(serviceName string) *ContextLogger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &ContextLogger{
		logger:      slog.New(handler),
		serviceName: serviceName,
	}
}

// WithContext returns a logger with context values extracted and added as fields
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger.With("service", cl.serviceName)

	var fields []any

	if clientID := ctx.Value(ClientIDKey); clientID != nil {
		fields = append(fields, string(ClientIDKey), clientID)
	}
	if metric := ctx.Value(MetricKey); metric != nil {
		fields = append(fields, string(MetricKey), metric)
	}
	if period := ctx.Value(PeriodKey); period != nil {
		fields = append(fields, string(PeriodKey), period)
	}
	if opID := ctx.Value(OperationIDKey); opID != nil {
		fields = append(fields, string(OperationIDKey), opID)
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}

	return logger
}

// Context helper functions

// WithClientID adds the client id to context for observability
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

// WithMetric adds the metric name to context for observability
func WithMetric(ctx context.Context, metric string) context.Context {
	return context.WithValue(ctx, MetricKey, metric)
}

// WithPeriod adds the canonical period to context for observability
func WithPeriod(ctx context.Context, period string) context.Context {
	return context.WithValue(ctx, PeriodKey, period)
}

// WithOperationID adds the lifecycle operation id to context for observability
func WithOperationID(ctx context.Context, opID string) context.Context {
	return context.WithValue(ctx, OperationIDKey, opID)
}
