package oteladapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AntonStoeckl/library-circulation-go/circulation/oteladapters"
)

func newTracedCollector() (*oteladapters.TracingCollector, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	return oteladapters.NewTracingCollector(provider.Tracer("test")), recorder
}

func Test_TracingCollector_StartAndFinishSpan(t *testing.T) {
	// arrange
	collector, recorder := newTracedCollector()

	// act
	_, span := collector.StartSpan(context.Background(), "circulation.operation", map[string]string{"operation": "Borrow"})
	collector.FinishSpan(span, "success", map[string]string{"status": "success"})

	// assert
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "circulation.operation", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assertSpanHasAttribute(t, ended[0], "operation", "Borrow")
	assertSpanHasAttribute(t, ended[0], "status", "success")
}

func Test_TracingCollector_StatusMapping(t *testing.T) {
	testCases := []struct {
		status   string
		expected codes.Code
	}{
		{status: "success", expected: codes.Ok},
		{status: "error", expected: codes.Error},
		{status: "rejected", expected: codes.Unset},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			collector, recorder := newTracedCollector()

			_, span := collector.StartSpan(context.Background(), "circulation.operation", nil)
			collector.FinishSpan(span, tc.status, nil)

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tc.expected, ended[0].Status().Code)
		})
	}
}

func Test_TracingCollector_ChildSpansShareTheTrace(t *testing.T) {
	collector, recorder := newTracedCollector()

	ctx, parent := collector.StartSpan(context.Background(), "parent", nil)
	_, child := collector.StartSpan(ctx, "child", nil)
	collector.FinishSpan(child, "success", nil)
	collector.FinishSpan(parent, "success", nil)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().TraceID(), ended[0].SpanContext().TraceID())
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
}

func Test_TracingCollector_AddAttribute(t *testing.T) {
	collector, recorder := newTracedCollector()

	_, span := collector.StartSpan(context.Background(), "circulation.operation", nil)
	span.AddAttribute("book_id", "b1")
	collector.FinishSpan(span, "success", nil)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assertSpanHasAttribute(t, ended[0], "book_id", "b1")
}

func assertSpanHasAttribute(t *testing.T, span sdktrace.ReadOnlySpan, key, expected string) {
	t.Helper()

	for _, attr := range span.Attributes() {
		if attr.Key == attribute.Key(key) {
			assert.Equal(t, expected, attr.Value.AsString())
			return
		}
	}

	t.Errorf("span has no attribute %s", key)
}
