// Package testdoubles provides spies for the observability ports of the circulation engine
// and its stores: a MetricsCollector spy, a TracingCollector spy and a slog.Handler spy.
package testdoubles
