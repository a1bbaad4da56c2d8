// Package oteladapters provides OpenTelemetry implementations of the observability
// interfaces of the circulation engine and its SQL store.
//
// Usage:
//
//	meter := otel.Meter("library-circulation")
//	tracer := otel.Tracer("library-circulation")
//
//	engine, err := circulation.NewEngine(
//		circulation.WithMetrics(oteladapters.NewMetricsCollector(meter)),
//		circulation.WithTracing(oteladapters.NewTracingCollector(tracer)),
//	)
package oteladapters
