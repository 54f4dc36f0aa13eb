// Package parameters describes the playground-editable inputs of an
// evaluation and resolves the values a request supplies for them.
package parameters

import (
	"encoding/json"
	"fmt"

	"github.com/braintrustdata/braintrust-eval-server/config"
)

// TypePrompt is the only descriptor type the server exposes. The playground
// renders it as a full prompt editor with model selection.
const TypePrompt = "prompt"

// PromptKey is the bundle key the example task reads its prompt from.
const PromptKey = "prompt"

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPrompt is a chat style prompt.
type ChatPrompt struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// PromptDefault is the value a descriptor starts with in the playground.
type PromptDefault struct {
	Prompt  ChatPrompt     `json:"prompt"`
	Options map[string]any `json:"options"`
}

// Descriptor describes one configurable input. It is read-only once built.
type Descriptor struct {
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Default     PromptDefault `json:"default"`
}

// SystemPrompt returns the descriptor for the system prompt and model,
// seeded from the configured defaults.
func SystemPrompt() Descriptor {
	return Descriptor{
		Type:        TypePrompt,
		Description: "Configure the system prompt and model for the assistant",
		Default: PromptDefault{
			Prompt: ChatPrompt{
				Type:     "chat",
				Messages: []Message{{Role: "system", Content: config.DefaultSystemPrompt}},
			},
			Options: map[string]any{"model": config.DefaultModel},
		},
	}
}

// PromptBlock is the nested prompt of a runtime value. Messages is nil when
// the caller sent a prompt without a message list.
type PromptBlock struct {
	Type     string    `json:"type,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// PromptValue is the runtime value of a prompt parameter. Both fields are
// optional and resolve independently.
type PromptValue struct {
	Prompt  *PromptBlock   `json:"prompt,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Bundle maps parameter names to the values supplied with one run. A nil
// Bundle means the evaluation runs with its defaults.
type Bundle map[string]*PromptValue

// Prompt returns the value stored under key, or nil.
func (b Bundle) Prompt(key string) *PromptValue {
	if b == nil {
		return nil
	}
	return b[key]
}

// ParseBundle decodes the "parameters" object of an eval request. Keys that
// are not declared in descriptors are rejected; values that are not objects
// are rejected.
func ParseBundle(raw map[string]json.RawMessage, descriptors map[string]Descriptor) (Bundle, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	b := make(Bundle, len(raw))
	for key, data := range raw {
		if _, ok := descriptors[key]; !ok {
			return nil, fmt.Errorf("unknown parameter %q", key)
		}
		if string(data) == "null" {
			continue
		}
		var v PromptValue
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		b[key] = &v
	}
	return b, nil
}

// Resolve returns the system instruction and model for v.
//
// The instruction is the content of the first "system" message of v's
// prompt, wherever it sits in the list. The model is the non-empty string
// stored under "model" in v's options. Each falls back to its default on its
// own, so options without a prompt still select the model.
func Resolve(v *PromptValue, defaultInstruction, defaultModel string) (instruction, model string) {
	instruction, model = defaultInstruction, defaultModel
	if v == nil {
		return instruction, model
	}
	if v.Prompt != nil {
		for _, m := range v.Prompt.Messages {
			if m.Role == "system" {
				instruction = m.Content
				break
			}
		}
	}
	if m, ok := v.Options["model"].(string); ok && m != "" {
		model = m
	}
	return instruction, model
}
