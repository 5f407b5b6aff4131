// Package otel exposes authcore metrics as OpenTelemetry observable
// instruments.
//
// One Int64ObservableCounter is registered per engine counter, one
// Int64ObservableGauge per histogram bucket, and a single callback reads
// the engine snapshot on each collection. Callers own the MeterProvider.
package otel
