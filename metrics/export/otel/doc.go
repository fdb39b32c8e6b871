// Package otel binds tenantauth counters to an OpenTelemetry meter.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. One callback reads Engine.MetricsSnapshot per
// collection. The caller owns the MeterProvider.
package otel
