package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMQHeaderCarrier_RoundTrip(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := map[string]interface{}{"X-Trace-ID": "abc"}
	prop := propagation.TraceContext{}
	prop.Inject(ctx, NewMQHeaderCarrier(headers))

	assert.Contains(t, headers, "traceparent")
	assert.Equal(t, "abc", headers["X-Trace-ID"])

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), NewMQHeaderCarrier(headers)))
	assert.Equal(t, sc.TraceID(), extracted.TraceID())
	assert.ElementsMatch(t, []string{"X-Trace-ID", "traceparent"}, NewMQHeaderCarrier(headers).Keys())
}

func TestMQHeaderCarrier_NonStringValue(t *testing.T) {
	c := NewMQHeaderCarrier(map[string]interface{}{"n": 1})
	assert.Equal(t, "", c.Get("n"))
	assert.Equal(t, "", c.Get("missing"))
}
