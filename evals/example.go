// Package evals defines the example evaluation: a task that asks a model to
// answer each dataset record, and the scorers that grade the answers.
//
// Register adds them to a registry under the names eval_example.yaml uses.
package evals

import (
	"context"
	"fmt"

	"github.com/braintrustdata/braintrust-eval-server/config"
	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/llm"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

// OutputKey is the task result key holding the model's answer.
const OutputKey = "output"

// ExampleTask returns a task that sends each record to the model as the user
// message, under the system prompt and model the run's "prompt" parameter
// selects, and returns {"output": answer}.
func ExampleTask(client llm.ChatClient) eval.TaskFunc[any, any] {
	return func(ctx context.Context, input any, hooks *eval.TaskHooks) (eval.TaskOutput[any], error) {
		instruction, model := parameters.Resolve(hooks.Prompt(parameters.PromptKey), config.DefaultSystemPrompt, config.DefaultModel)

		completion, err := client.Complete(ctx, model, Messages(instruction, UserMessage(input)))
		if err != nil {
			return eval.TaskOutput[any]{}, fmt.Errorf("example task: %w", err)
		}
		return eval.TaskOutput[any]{
			Value:    map[string]any{OutputKey: completion.Text},
			Metadata: eval.Metadata{"model": model},
		}, nil
	}
}

// Messages returns the system then user message, leaving out either one
// when it is empty.
func Messages(instruction, user string) []llm.Message {
	var messages []llm.Message
	if instruction != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: instruction})
	}
	if user != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})
	}
	return messages
}

// UserMessage turns a dataset record into the text sent to the model. A
// string is used verbatim and a map contributes its "input" value. Empty
// records produce "".
func UserMessage(record any) string {
	if isEmpty(record) {
		return ""
	}
	switch r := record.(type) {
	case string:
		return r
	case map[string]any:
		if input, ok := r["input"]; ok {
			return text(input)
		}
	}
	return fmt.Sprint(record)
}

// text renders v for a prompt: strings as-is, nil as "", anything else with fmt.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
