package llm

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var llmSpanAttrs = map[string]any{"type": "llm"}

// spanNames follow the SDK call each provider makes.
var spanNames = map[string]string{
	ProviderOpenAI:    "openai.chat.completions.create",
	ProviderAnthropic: "anthropic.messages.create",
	ProviderGemini:    "genai.models.generateContent",
}

// Traced wraps client so every call records an llm span. A nil tp uses the
// global provider.
func Traced(client ChatClient, tp oteltrace.TracerProvider) ChatClient {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &tracedClient{next: client, tracer: tp.Tracer("braintrust.llm")}
}

type tracedClient struct {
	next   ChatClient
	tracer oteltrace.Tracer
}

func (c *tracedClient) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	provider := ProviderFor(model)
	ctx, span := StartSpan(ctx, c.tracer, provider, model, messages)
	out, err := c.next.Complete(ctx, model, messages)
	EndSpan(span, out, err)
	return out, err
}

// StartSpan starts an llm span carrying the request. Callers that talk to a
// provider SDK directly use it to trace calls the same way.
func StartSpan(ctx context.Context, tracer oteltrace.Tracer, provider, model string, input any) (context.Context, oteltrace.Span) {
	name, ok := spanNames[provider]
	if !ok {
		name = provider + ".chat"
	}
	ctx, span := tracer.Start(ctx, name, oteltrace.WithTimestamp(time.Now()))
	setJSONAttr(span, "braintrust.span_attributes", llmSpanAttrs)
	setJSONAttr(span, "braintrust.input_json", input)
	setJSONAttr(span, "braintrust.metadata", map[string]any{"provider": provider, "model": model})
	return ctx, span
}

// EndSpan records the completion or error and ends span.
func EndSpan(span oteltrace.Span, out *Completion, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	setJSONAttr(span, "braintrust.output_json", []Message{{Role: RoleAssistant, Content: out.Text}})
	setJSONAttr(span, "braintrust.metrics", out.Usage.Metrics())
}

func setJSONAttr(span oteltrace.Span, key string, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	span.SetAttributes(attribute.String(key, string(b)))
}
