// Package telemetry wires OpenTelemetry exporters and meters for the
// interception engine.
//
// It centralises trace provider setup, records generation cache and
// synthesis metrics for the engine, records per-call metrics for the
// interceptor library, and redacts call attributes before they are
// attached to spans.
package telemetry
