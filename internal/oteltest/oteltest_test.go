package oteltest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestSetup_CapturesSpans(t *testing.T) {
	tracer, exporter := Setup(t)

	ctx, parent := tracer.Start(context.Background(), "parent")
	_, child := tracer.Start(ctx, "child")
	child.SetAttributes(
		attribute.String("plain", "value"),
		attribute.String("json", `{"a":1,"b":["x"]}`),
	)
	child.End()
	parent.End()

	spans := exporter.Flush()
	require.Len(t, spans, 2)
	assert.Empty(t, exporter.Flush(), "flush clears the buffer")

	byName := ByName(spans)
	c := byName["child"][0]
	p := byName["parent"][0]
	assert.Equal(t, p.SpanID(), c.ParentSpanID())
	assert.Equal(t, "", p.ParentSpanID())
	assert.True(t, c.HasAttr("plain"))
	assert.False(t, c.HasAttr("missing"))
	assert.Equal(t, "value", c.Attr("plain"))
	c.AssertJSONAttrEquals("json", map[string]any{"a": 1, "b": []string{"x"}})
	c.AssertOK()
}

func TestSpan_AssertError(t *testing.T) {
	tracer, exporter := Setup(t)

	_, span := tracer.Start(context.Background(), "failing")
	err := errors.New("boom")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()

	exporter.FlushOne().AssertError("boom")
}
