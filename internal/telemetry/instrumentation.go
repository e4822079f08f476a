package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes must stay low-cardinality: identifiers, URLs and file names
// belong in logs, not in attributes that feed metric series.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	))
	defer span.End()

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments progress store operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "progress_store", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, time.Since(start))

	return err
}

// StartFetch opens the span that covers one fetch task. The returned
// function ends it and records the task's terminal outcome.
func (t *Telemetry) StartFetch(ctx context.Context) (context.Context, func(outcome string, err error)) {
	start := time.Now()

	ctx, span := t.Tracer().Start(ctx, "fetch", trace.WithAttributes(
		attribute.String("component", "downloader"),
	))

	return ctx, func(outcome string, err error) {
		span.SetAttributes(attribute.String("outcome", outcome))

		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
		t.RecordFetch(outcome, time.Since(start))
	}
}
