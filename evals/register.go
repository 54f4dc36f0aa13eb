package evals

import (
	"errors"

	"github.com/openai/openai-go"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/braintrustdata/braintrust-eval-server/llm"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
	"github.com/braintrustdata/braintrust-eval-server/registry"
)

// Names the example definition refers to.
const (
	TaskExample           = "example-task"
	ScorerResponseQuality = "response-quality"
	ScorerLength          = "length"
	ScorerExactMatch      = "exact-match"
	ParameterSystemPrompt = "system-prompt"
)

// Deps are what the example evaluation calls out to.
type Deps struct {
	// Chat answers the task's prompts.
	Chat llm.ChatClient
	// Judge grades answers for the response quality scorer.
	Judge          openai.Client
	TracerProvider oteltrace.TracerProvider
}

// Register adds the example task, scorers and parameter to r.
func Register(r *registry.Registry, deps Deps) error {
	if deps.Chat == nil {
		return errors.New("evals: a chat client is required")
	}
	quality, err := NewResponseQuality(deps.Judge, deps.TracerProvider)
	if err != nil {
		return err
	}
	return errors.Join(
		r.RegisterTask(TaskExample, ExampleTask(deps.Chat)),
		r.RegisterScorer(ScorerResponseQuality, quality),
		r.RegisterScorer(ScorerLength, LengthScorer()),
		r.RegisterScorer(ScorerExactMatch, NewExactMatch()),
		r.RegisterParameter(ParameterSystemPrompt, parameters.SystemPrompt()),
	)
}
