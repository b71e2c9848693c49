// Package internaldefs is the metric name table shared by the exporters, so
// Prometheus and OpenTelemetry publish the same names and bucket bounds.
package internaldefs
