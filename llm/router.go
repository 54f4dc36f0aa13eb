package llm

import (
	"context"
	"fmt"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/braintrustdata/braintrust-eval-server/config"
)

// Router dispatches each call to the backend that serves the model: claude-*
// to Anthropic, gemini-* to Gemini, everything else to OpenAI. A nil backend
// means that provider is not configured.
type Router struct {
	OpenAI    ChatClient
	Anthropic ChatClient
	Gemini    ChatClient
}

// Complete implements ChatClient.
func (r *Router) Complete(ctx context.Context, model string, messages []Message) (*Completion, error) {
	client, err := r.backend(model)
	if err != nil {
		return nil, err
	}
	return client.Complete(ctx, model, messages)
}

func (r *Router) backend(model string) (ChatClient, error) {
	provider := ProviderFor(model)
	var client ChatClient
	switch provider {
	case ProviderAnthropic:
		client = r.Anthropic
	case ProviderGemini:
		client = r.Gemini
	default:
		client = r.OpenAI
	}
	if client == nil {
		return nil, fmt.Errorf("%w: %s (model %q)", ErrProviderNotConfigured, provider, model)
	}
	return client, nil
}

// FromConfig builds a router with a backend for every provider that has an
// API key in cfg, each wrapped with tracing on tp.
func FromConfig(ctx context.Context, cfg *config.Config, tp oteltrace.TracerProvider) (*Router, error) {
	r := &Router{}
	if cfg.OpenAIAPIKey != "" {
		r.OpenAI = Traced(NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, OpenAIOptions(cfg)...), tp)
	}
	if cfg.AnthropicAPIKey != "" {
		r.Anthropic = Traced(NewAnthropic(cfg.AnthropicAPIKey), tp)
	}
	if cfg.GeminiAPIKey != "" {
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, "")
		if err != nil {
			return nil, err
		}
		r.Gemini = Traced(g, tp)
	}
	return r, nil
}
