package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the migration and backup counters as OTel instruments
type OTelMetrics struct {
	storageOperations metric.Int64Counter
	migrations        metric.Int64Counter
	backupOperations  metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the given meter provider
func NewOTelMetrics(mp metric.MeterProvider) (*OTelMetrics, error) {
	meter := mp.Meter(instrumentationName)

	m := &OTelMetrics{}
	var err error

	m.storageOperations, err = meter.Int64Counter(
		"keepsake.storage.operations",
		metric.WithDescription("Storage operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage operations counter: %w", err)
	}

	m.migrations, err = meter.Int64Counter(
		"keepsake.migrations",
		metric.WithDescription("Migrations run by target version and outcome"),
		metric.WithUnit("{migration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations counter: %w", err)
	}

	m.backupOperations, err = meter.Int64Counter(
		"keepsake.backup.operations",
		metric.WithDescription("Backup operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup operations counter: %w", err)
	}

	return m, nil
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "success")
}

func (m *OTelMetrics) storageOp(operation string, err error) {
	m.storageOperations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", operation), statusAttr(err)))
}

func (m *OTelMetrics) migration(version string, err error) {
	m.migrations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("version", version), statusAttr(err)))
}

func (m *OTelMetrics) backupOp(operation string, err error) {
	m.backupOperations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", operation), statusAttr(err)))
}
