package eval

import (
	"context"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Evaluator runs evaluations with fixed input and output types against one
// target, and loads the hosted datasets and scorers they use.
type Evaluator[I, R any] struct {
	target         Target
	tracerProvider oteltrace.TracerProvider
}

// NewEvaluator creates a new evaluator. The type parameters I (input) and R
// (result/output) must be specified explicitly.
func NewEvaluator[I, R any](target Target, tp oteltrace.TracerProvider) *Evaluator[I, R] {
	return &Evaluator[I, R]{
		target:         target,
		tracerProvider: tp,
	}
}

// Datasets returns a DatasetAPI for loading datasets with this evaluator's type parameters.
func (e *Evaluator[I, R]) Datasets() *DatasetAPI[I, R] {
	return &DatasetAPI[I, R]{apiClient: e.target.API}
}

// Scorers returns a ScorerAPI that looks up scorers in projectName.
func (e *Evaluator[I, R]) Scorers(projectName string) *ScorerAPI[I, R] {
	return &ScorerAPI[I, R]{api: e.target.API, projectName: projectName}
}

// Run executes an evaluation using this evaluator's dependencies.
func (e *Evaluator[I, R]) Run(ctx context.Context, opts Opts[I, R]) (*Result, error) {
	return Run(ctx, opts, e.target, e.tracerProvider)
}
