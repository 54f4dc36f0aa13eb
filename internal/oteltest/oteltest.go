// Package oteltest provides an in-memory span exporter and assertion helpers
// for tests that check the spans an eval run produces.
package oteltest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Setup installs a synchronous tracer provider that keeps spans in memory and
// restores the previous global provider when the test ends.
func Setup(t *testing.T) (oteltrace.Tracer, *Exporter) {
	t.Helper()
	tp, exporter := SetupProvider(t)
	return tp.Tracer(t.Name()), exporter
}

// SetupProvider is Setup for code under test that takes a tracer provider.
func SetupProvider(t *testing.T) (*sdktrace.TracerProvider, *Exporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Errorf("shutting down tracer provider: %v", err)
		}
		otel.SetTracerProvider(original)
	})

	return tp, &Exporter{exporter: exporter, t: t}
}

// Exporter wraps the in-memory exporter.
type Exporter struct {
	exporter *tracetest.InMemoryExporter
	t        *testing.T
}

// InMemoryExporter returns the underlying exporter, for wiring into a provider
// built by the code under test.
func (e *Exporter) InMemoryExporter() *tracetest.InMemoryExporter {
	return e.exporter
}

// Flush returns and clears the buffered spans in end order.
func (e *Exporter) Flush() []Span {
	stubs := e.exporter.GetSpans()
	e.exporter.Reset()

	spans := make([]Span, len(stubs))
	for i, stub := range stubs {
		spans[i] = Span{t: e.t, Stub: stub}
	}
	return spans
}

// FlushOne fails unless exactly one span was buffered.
func (e *Exporter) FlushOne() Span {
	e.t.Helper()
	spans := e.Flush()
	require.Len(e.t, spans, 1)
	return spans[0]
}

// ByName groups spans by name.
func ByName(spans []Span) map[string][]Span {
	out := make(map[string][]Span)
	for _, s := range spans {
		out[s.Name()] = append(out[s.Name()], s)
	}
	return out
}

// Span is a finished span with assertion helpers.
type Span struct {
	t    *testing.T
	Stub tracetest.SpanStub
}

// Name returns the span name.
func (s Span) Name() string { return s.Stub.Name }

// Status returns the span status.
func (s Span) Status() sdktrace.Status { return s.Stub.Status }

// ParentSpanID returns the hex id of the parent span, "" for roots.
func (s Span) ParentSpanID() string {
	if !s.Stub.Parent.HasSpanID() {
		return ""
	}
	return s.Stub.Parent.SpanID().String()
}

// SpanID returns the hex span id.
func (s Span) SpanID() string { return s.Stub.SpanContext.SpanID().String() }

// HasAttr reports whether the span carries key.
func (s Span) HasAttr(key string) bool {
	for _, kv := range s.Stub.Attributes {
		if string(kv.Key) == key {
			return true
		}
	}
	return false
}

// Attr returns the attribute value as a string, "" if absent.
func (s Span) Attr(key string) string {
	for _, kv := range s.Stub.Attributes {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

// JSONAttr decodes a JSON encoded attribute into a generic value.
func (s Span) JSONAttr(key string) any {
	s.t.Helper()
	raw := s.Attr(key)
	require.NotEmpty(s.t, raw, "attribute %q missing on span %q", key, s.Name())
	var v any
	require.NoError(s.t, json.Unmarshal([]byte(raw), &v), "attribute %q is not JSON", key)
	return v
}

// AssertJSONAttrEquals compares a JSON encoded attribute with expected after
// normalizing expected through JSON.
func (s Span) AssertJSONAttrEquals(key string, expected any) {
	s.t.Helper()
	data, err := json.Marshal(expected)
	require.NoError(s.t, err)
	var want any
	require.NoError(s.t, json.Unmarshal(data, &want))
	assert.Equal(s.t, want, s.JSONAttr(key), "attribute %q on span %q", key, s.Name())
}

// AssertOK fails if the span recorded an error status.
func (s Span) AssertOK() {
	s.t.Helper()
	assert.NotEqual(s.t, codes.Error, s.Stub.Status.Code, "span %q: %s", s.Name(), s.Stub.Status.Description)
}

// AssertError fails unless the span has an error status containing substr.
func (s Span) AssertError(substr string) {
	s.t.Helper()
	assert.Equal(s.t, codes.Error, s.Stub.Status.Code, "span %q", s.Name())
	assert.Contains(s.t, s.Stub.Status.Description, substr)
	hasEvent := false
	for _, ev := range s.Stub.Events {
		if ev.Name == "exception" {
			hasEvent = true
		}
	}
	assert.True(s.t, hasEvent, "span %q has no exception event", s.Name())
}
