// Package llm is a small chat-completion abstraction over the inference
// providers the eval server can call.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names, used in span metadata and errors.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

var (
	// ErrNoChoices is returned when a provider answers without any completion.
	ErrNoChoices = errors.New("completion returned no choices")
	// ErrProviderNotConfigured is returned when a model routes to a provider
	// that has no API key.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Metrics returns usage in the braintrust.metrics shape.
func (u Usage) Metrics() map[string]int64 {
	return map[string]int64{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"tokens":            u.PromptTokens + u.CompletionTokens,
	}
}

// Completion is the first completion returned for a request.
type Completion struct {
	Text  string
	Usage Usage
}

// ChatClient submits a chat to a model and returns the first completion.
// Errors are returned as-is; implementations do not retry.
type ChatClient interface {
	Complete(ctx context.Context, model string, messages []Message) (*Completion, error)
}

// ProviderFor returns the provider that serves model.
func ProviderFor(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

// splitSystem separates system messages from the conversation. Providers
// that take the instruction out of band use it.
func splitSystem(messages []Message) (system []string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
