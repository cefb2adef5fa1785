// Package metrics implements the engine's in-process counter set: padded
// atomic counters with deep-copy snapshots. Exporters under metrics/export
// translate snapshots into Prometheus or OpenTelemetry instruments.
package metrics
