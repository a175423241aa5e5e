package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestContextFields_Correlation(t *testing.T) {
	ctx := context.Background()
	ctx = WithConversationID(ctx, "conv-42")
	ctx = WithTicketID(ctx, "ticket-7")
	ctx = WithRequestID(ctx, "req-9")

	keys := map[string]string{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = f.String
	}

	assert.Equal(t, "conv-42", keys["conversation.id"])
	assert.Equal(t, "ticket-7", keys["ticket.id"])
	assert.Equal(t, "req-9", keys["request.id"])
	assert.NotContains(t, keys, "trace_id")
}

func TestContextFields_EmptyIDsIgnored(t *testing.T) {
	ctx := WithConversationID(context.Background(), "")
	ctx = WithTicketID(ctx, "")

	assert.Empty(t, ContextFields(ctx))
}

func TestContextFields_TraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	tl := NewTestLogger()
	tl.Info(ctx, "traced")

	tl.AssertField(t, "traced", "trace_id", span.SpanContext().TraceID().String())
	tl.AssertField(t, "traced", "span_id", span.SpanContext().SpanID().String())
}
