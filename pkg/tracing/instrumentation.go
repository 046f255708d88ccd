package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Business logic span attributes
const (
	UserIDKey     = attribute.Key("user.id")
	TripIDKey     = attribute.Key("trip.id")
	DriverIDKey   = attribute.Key("driver.id")
	PaymentIDKey  = attribute.Key("payment.id")
	FareAmountKey = attribute.Key("fare.amount")
)

// TraceBusinessLogic wraps business logic with tracing
func TraceBusinessLogic(ctx context.Context, tracerName, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, operation,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TraceExternalAPI wraps external API calls with tracing
func TraceExternalAPI(ctx context.Context, tracerName, serviceName, operation string, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, fmt.Sprintf("%s.%s", serviceName, operation),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("external.service", serviceName),
		attribute.String("external.operation", operation),
	)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TripAttributes builds trip-scoped span attributes, skipping empty IDs.
func TripAttributes(tripID, userID, driverID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if tripID != "" {
		attrs = append(attrs, TripIDKey.String(tripID))
	}
	if userID != "" {
		attrs = append(attrs, UserIDKey.String(userID))
	}
	if driverID != "" {
		attrs = append(attrs, DriverIDKey.String(driverID))
	}
	return attrs
}

// PaymentAttributes builds payment-scoped span attributes.
func PaymentAttributes(paymentID string, amount float64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if paymentID != "" {
		attrs = append(attrs, PaymentIDKey.String(paymentID))
	}
	if amount > 0 {
		attrs = append(attrs, FareAmountKey.Float64(amount))
	}
	return attrs
}
