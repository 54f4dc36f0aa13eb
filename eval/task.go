package eval

import (
	"context"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

// TaskFunc runs one case. hooks is nil when the task is called outside an
// eval run.
type TaskFunc[I, R any] func(ctx context.Context, input I, hooks *TaskHooks) (TaskOutput[R], error)

// TaskHooks is what a running task can see of its case and run.
type TaskHooks struct {
	Expected any
	Metadata Metadata
	Tags     []string

	// Parameters are the runtime values supplied for the eval's parameter
	// descriptors. Nil when the run supplied none.
	Parameters parameters.Bundle

	// TaskSpan and EvalSpan may be annotated by the task.
	TaskSpan oteltrace.Span
	EvalSpan oteltrace.Span
}

// Prompt returns the prompt value supplied for key, or nil. It is safe to
// call on nil hooks.
func (h *TaskHooks) Prompt(key string) *parameters.PromptValue {
	if h == nil {
		return nil
	}
	return h.Parameters.Prompt(key)
}

// TaskOutput is a task's answer for one case.
type TaskOutput[R any] struct {
	Value R
	// Metadata is recorded on the task span as braintrust.metadata.
	Metadata Metadata
}

// TaskResult is what scorers see of a finished task.
type TaskResult[I, R any] struct {
	Input    I
	Expected R
	Output   R
	Metadata Metadata
}

// T adapts a plain function that ignores hooks into a TaskFunc.
func T[I, R any](fn func(ctx context.Context, input I) (R, error)) TaskFunc[I, R] {
	return func(ctx context.Context, input I, _ *TaskHooks) (TaskOutput[R], error) {
		val, err := fn(ctx, input)
		return TaskOutput[R]{Value: val}, err
	}
}
