// Package internaldefs holds the shared metric definition table consumed by
// the OpenTelemetry and Prometheus exporters. It exists so both exporters
// expose identical series names without either importing the other.
package internaldefs
