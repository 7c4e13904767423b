// Package telemetry exports coordination activity to external collectors.
//
// # Overview
//
// Two independent channels are provided:
//
//   - Tracer emits OpenTelemetry spans for assignment, execution and
//     distribution. InitProvider wires an OTLP exporter; without it every
//     span is a no-op.
//   - Exporter writes flat event records (JSON lines to a file, batched
//     POSTs to an HTTP endpoint, or nothing). The events package feeds it.
//
// Both are advisory. Export failures never reach the coordination path.
package telemetry
