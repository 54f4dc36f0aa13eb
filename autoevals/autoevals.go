// Package autoevals provides scoring functions for evaluating AI model outputs.
package autoevals

import (
	"context"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/braintrustdata/braintrust-eval-server/eval"
)

// NewEquals creates a scorer that returns 1.0 when result equals expected, 0.0 otherwise.
//
// Example:
//
//	equals := autoevals.NewEquals[string, string]()
//	scores, err := equals.Run(ctx, eval.TaskResult[string, string]{Expected: "hello", Output: "hello"}) // 1.0
func NewEquals[I any, R comparable]() eval.Scorer[I, R] {
	return eval.NewScorer("Equals", func(_ context.Context, r eval.TaskResult[I, R]) (eval.Scores, error) {
		if r.Expected == r.Output {
			return eval.S(1), nil
		}
		return eval.S(0), nil
	})
}

// NewLessThan creates a scorer that returns 1.0 when expected < result, 0.0 otherwise.
func NewLessThan[I any, R constraints.Ordered]() eval.Scorer[I, R] {
	return eval.NewScorer("LessThan", func(_ context.Context, r eval.TaskResult[I, R]) (eval.Scores, error) {
		if r.Expected < r.Output {
			return eval.S(1), nil
		}
		return eval.S(0), nil
	})
}

// NewNumericDiff scores how close result is to expected: 1 for equal values,
// falling linearly with the difference relative to the larger magnitude.
func NewNumericDiff[I any, R constraints.Integer | constraints.Float]() eval.Scorer[I, R] {
	return eval.NewScorer("NumericDiff", func(_ context.Context, r eval.TaskResult[I, R]) (eval.Scores, error) {
		expected, output := float64(r.Expected), float64(r.Output)
		if expected == output {
			return eval.S(1), nil
		}
		denom := math.Max(math.Abs(expected), math.Abs(output))
		return eval.S(Clamp(1-math.Abs(expected-output)/denom, 0, 1)), nil
	})
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	return max(lo, min(v, hi))
}
