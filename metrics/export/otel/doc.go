// Package otel exports the engine's counters through an OpenTelemetry meter.
// The exporter registers observable instruments only; the engine stays free
// of any SDK dependency on its hot path.
package otel
