package eval

import "context"

// Scorer grades the result of a task on one case.
type Scorer[I, R any] interface {
	Name() string
	// Run returns one or more scores. Scores without a name are reported
	// under the scorer's name.
	Run(ctx context.Context, result TaskResult[I, R]) (Scores, error)
}

// Score is one named value in [0, 1].
type Score struct {
	Name     string
	Score    float64
	Metadata map[string]any
}

// Scores is what a scorer returns.
type Scores = []Score

// S returns a single unnamed score; S(0.5) is Scores{{Score: 0.5}}.
func S(score float64) Scores {
	return Scores{{Score: score}}
}

// ScoreMap indexes scores by name. A later score wins over an earlier one
// with the same name.
func ScoreMap(scores Scores) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for _, s := range scores {
		out[s.Name] = s.Score
	}
	return out
}

// ScoreFunc is the function behind a scorer built with NewScorer.
type ScoreFunc[I, R any] func(ctx context.Context, result TaskResult[I, R]) (Scores, error)

// NewScorer returns a Scorer called name that runs fn.
func NewScorer[I, R any](name string, fn ScoreFunc[I, R]) Scorer[I, R] {
	return funcScorer[I, R]{name: name, fn: fn}
}

type funcScorer[I, R any] struct {
	name string
	fn   ScoreFunc[I, R]
}

func (s funcScorer[I, R]) Name() string { return s.name }

func (s funcScorer[I, R]) Run(ctx context.Context, result TaskResult[I, R]) (Scores, error) {
	return s.fn(ctx, result)
}
