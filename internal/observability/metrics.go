package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MutationMetrics holds custom metrics for the list mutation pipeline.
type MutationMetrics struct {
	operationDuration metric.Float64Histogram
	operationCounter  metric.Int64Counter
	errorCounter      metric.Int64Counter
	fieldErrors       metric.Int64Counter
	batchSize         metric.Int64Histogram
	nestedEffects     metric.Int64Histogram
}

// InitMutationMetrics initializes mutation pipeline metrics.
func InitMutationMetrics() (*MutationMetrics, error) {
	meter := otel.Meter("keystone")

	operationDuration, err := meter.Float64Histogram(
		"mutation.operation.duration",
		metric.WithDescription("Duration of mutation operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	operationCounter, err := meter.Int64Counter(
		"mutation.operations.total",
		metric.WithDescription("Total number of mutation operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"mutation.errors.total",
		metric.WithDescription("Total number of failed mutation operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	fieldErrors, err := meter.Int64Counter(
		"mutation.field_errors.total",
		metric.WithDescription("Field-level failures aggregated per resolution phase"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create field error counter: %w", err)
	}

	batchSize, err := meter.Int64Histogram(
		"mutation.batch.size",
		metric.WithDescription("Number of items per batch mutation call"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch size histogram: %w", err)
	}

	nestedEffects, err := meter.Int64Histogram(
		"mutation.nested.effects",
		metric.WithDescription("Deferred nested-create effects drained per committed top-level mutation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nested effects histogram: %w", err)
	}

	return &MutationMetrics{
		operationDuration: operationDuration,
		operationCounter:  operationCounter,
		errorCounter:      errorCounter,
		fieldErrors:       fieldErrors,
		batchSize:         batchSize,
		nestedEffects:     nestedEffects,
	}, nil
}

// RecordOperation records one item's pipeline run.
func (m *MutationMetrics) RecordOperation(ctx context.Context, list, op string, duration time.Duration, failed bool) {
	attrs := metric.WithAttributes(
		attribute.String("list", list),
		attribute.String("operation", op),
	)
	m.operationCounter.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if failed {
		m.errorCounter.Add(ctx, 1, attrs)
	}
}

// RecordFieldErrors records aggregated field failures for one phase.
func (m *MutationMetrics) RecordFieldErrors(ctx context.Context, list, phase string, count int) {
	m.fieldErrors.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("list", list),
		attribute.String("phase", phase),
	))
}

// RecordNestedEffects records how many deferred nested effects one
// committed mutation drained.
func (m *MutationMetrics) RecordNestedEffects(ctx context.Context, list string, count int) {
	m.nestedEffects.Record(ctx, int64(count), metric.WithAttributes(
		attribute.String("list", list),
	))
}

// RecordBatch records the size of a batch call.
func (m *MutationMetrics) RecordBatch(ctx context.Context, list, op string, size int) {
	m.batchSize.Record(ctx, int64(size), metric.WithAttributes(
		attribute.String("list", list),
		attribute.String("operation", op),
	))
}
