package evals

import (
	"context"
	"unicode/utf8"

	"github.com/openai/openai-go"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/braintrustdata/braintrust-eval-server/autoevals"
	"github.com/braintrustdata/braintrust-eval-server/eval"
)

const qualityPrompt = `Evaluate this AI response:

Question: {{input}}
Response: {{output}}

Rate as: EXCELLENT, GOOD, FAIR, or POOR`

// QualityChoices maps the judge's rating to a score.
var QualityChoices = map[string]float64{
	"EXCELLENT": 1.0,
	"GOOD":      0.75,
	"FAIR":      0.5,
	"POOR":      0.0,
}

// NewResponseQuality returns the "Response Quality" judge. It grades the
// answer text, not the whole task result.
func NewResponseQuality(judge openai.Client, tp oteltrace.TracerProvider) (eval.Scorer[any, any], error) {
	classifier, err := autoevals.NewLLMClassifier[any, string](judge, autoevals.ClassifierOpts{
		Name:           "Response Quality",
		PromptTemplate: qualityPrompt,
		ChoiceScores:   QualityChoices,
		Model:          autoevals.DefaultJudgeModel,
		UseCoT:         true,
		TracerProvider: tp,
	})
	if err != nil {
		return nil, err
	}
	return OnOutputText(classifier), nil
}

// NewExactMatch scores 1 when the answer text equals the expected text.
func NewExactMatch() eval.Scorer[any, any] {
	return OnOutputText(autoevals.NewEquals[any, string]())
}

// LengthScorer prefers answers between 50 and 200 characters.
func LengthScorer() eval.Scorer[any, any] {
	return eval.NewScorer("length_scorer", func(_ context.Context, r eval.TaskResult[any, any]) (eval.Scores, error) {
		return eval.S(lengthScore(utf8.RuneCountInString(OutputText(r.Output)))), nil
	})
}

func lengthScore(n int) float64 {
	switch {
	case n < 50:
		return 0.5
	case n <= 200:
		return 1.0
	default:
		return 0.8
	}
}

// OnOutputText adapts a text scorer to task results shaped like
// {"output": text}. Output and expected are both reduced to their text.
func OnOutputText(s eval.Scorer[any, string]) eval.Scorer[any, any] {
	return eval.NewScorer(s.Name(), func(ctx context.Context, r eval.TaskResult[any, any]) (eval.Scores, error) {
		return s.Run(ctx, eval.TaskResult[any, string]{
			Input:    r.Input,
			Expected: OutputText(r.Expected),
			Output:   OutputText(r.Output),
			Metadata: r.Metadata,
		})
	})
}

// OutputText returns the "output" value of a task result map, or v itself
// rendered as text.
func OutputText(v any) string {
	if m, ok := v.(map[string]any); ok {
		if out, ok := m[OutputKey]; ok {
			return text(out)
		}
	}
	return text(v)
}
