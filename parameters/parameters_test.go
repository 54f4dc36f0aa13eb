package parameters

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braintrustdata/braintrust-eval-server/config"
)

func TestSystemPrompt_Schema(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(SystemPrompt())
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "prompt",
		"description": "Configure the system prompt and model for the assistant",
		"default": {
			"prompt": {
				"type": "chat",
				"messages": [{"role": "system", "content": "You are a helpful assistant."}]
			},
			"options": {"model": "gpt-4o-mini"}
		}
	}`, string(data))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	const defInstr, defModel = config.DefaultSystemPrompt, config.DefaultModel

	tests := []struct {
		name      string
		value     *PromptValue
		wantInstr string
		wantModel string
	}{
		{
			name:      "nil value uses both defaults",
			wantInstr: defInstr,
			wantModel: defModel,
		},
		{
			name:      "empty value uses both defaults",
			value:     &PromptValue{},
			wantInstr: defInstr,
			wantModel: defModel,
		},
		{
			name: "system message anywhere in the list",
			value: &PromptValue{Prompt: &PromptBlock{Messages: []Message{
				{Role: "user", Content: "hi"},
				{Role: "system", Content: "X"},
				{Role: "system", Content: "second"},
			}}},
			wantInstr: "X",
			wantModel: defModel,
		},
		{
			name:      "prompt without system message",
			value:     &PromptValue{Prompt: &PromptBlock{Messages: []Message{{Role: "user", Content: "hi"}}}},
			wantInstr: defInstr,
			wantModel: defModel,
		},
		{
			name:      "options without prompt still select the model",
			value:     &PromptValue{Options: map[string]any{"model": "m"}},
			wantInstr: defInstr,
			wantModel: "m",
		},
		{
			name: "both overridden",
			value: &PromptValue{
				Prompt:  &PromptBlock{Messages: []Message{{Role: "system", Content: "Be terse."}}},
				Options: map[string]any{"model": "gpt-4o", "temperature": 0.2},
			},
			wantInstr: "Be terse.",
			wantModel: "gpt-4o",
		},
		{
			name:      "empty system content is kept",
			value:     &PromptValue{Prompt: &PromptBlock{Messages: []Message{{Role: "system", Content: ""}}}},
			wantInstr: "",
			wantModel: defModel,
		},
		{
			name:      "empty model falls back to the default",
			value:     &PromptValue{Options: map[string]any{"model": ""}},
			wantInstr: defInstr,
			wantModel: defModel,
		},
		{
			name:      "non-string model ignored",
			value:     &PromptValue{Options: map[string]any{"model": 4}},
			wantInstr: defInstr,
			wantModel: defModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			instr, model := Resolve(tt.value, defInstr, defModel)
			assert.Equal(t, tt.wantInstr, instr)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestParseBundle(t *testing.T) {
	t.Parallel()

	descriptors := map[string]Descriptor{PromptKey: SystemPrompt()}

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{
		"prompt": {
			"prompt": {"type": "chat", "messages": [{"role": "system", "content": "Pirate voice."}]},
			"options": {"model": "gpt-4o"}
		}
	}`), &raw))

	b, err := ParseBundle(raw, descriptors)
	require.NoError(t, err)
	instr, model := Resolve(b.Prompt(PromptKey), "d", "m")
	assert.Equal(t, "Pirate voice.", instr)
	assert.Equal(t, "gpt-4o", model)

	empty, err := ParseBundle(nil, descriptors)
	require.NoError(t, err)
	assert.Nil(t, empty)
	assert.Nil(t, empty.Prompt(PromptKey))

	_, err = ParseBundle(map[string]json.RawMessage{"other": json.RawMessage(`{}`)}, descriptors)
	assert.ErrorContains(t, err, `unknown parameter "other"`)

	_, err = ParseBundle(map[string]json.RawMessage{"prompt": json.RawMessage(`"text"`)}, descriptors)
	assert.Error(t, err)
}
