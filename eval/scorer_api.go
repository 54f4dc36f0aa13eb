package eval

import (
	"context"
	"fmt"

	"github.com/braintrustdata/braintrust-eval-server/api"
)

// ScorerAPI loads scorers hosted as Braintrust functions.
type ScorerAPI[I, R any] struct {
	api         *api.API
	projectName string
}

// Get loads a scorer by slug from the API's project. Every run of the
// returned scorer invokes the function with the case's input, output and
// expected values.
func (s *ScorerAPI[I, R]) Get(ctx context.Context, slug string) (Scorer[I, R], error) {
	if slug == "" {
		return nil, fmt.Errorf("slug is required")
	}
	if s.api == nil {
		return nil, fmt.Errorf("scorer %q: no API client", slug)
	}

	functions, err := s.api.Functions().Query(ctx, api.FunctionQueryOpts{
		ProjectName: s.projectName,
		Slug:        slug,
		Limit:       1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query function: %w", err)
	}
	if len(functions) == 0 {
		return nil, fmt.Errorf("scorer not found: project=%s slug=%s", s.projectName, slug)
	}
	function := functions[0]

	return NewScorer(function.Name, func(ctx context.Context, result TaskResult[I, R]) (Scores, error) {
		output, err := s.api.Functions().Invoke(ctx, function.ID, map[string]any{
			"input":    result.Input,
			"output":   result.Output,
			"expected": result.Expected,
			"metadata": result.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to invoke scorer: %w", err)
		}
		return parseHostedScore(output)
	}), nil
}

// parseHostedScore accepts either {name, score, metadata} or a bare number.
func parseHostedScore(output any) (Scores, error) {
	switch v := output.(type) {
	case nil:
		return nil, fmt.Errorf("scorer returned nil")
	case float64:
		return S(v), nil
	case map[string]any:
		score := Score{}
		if name, ok := v["name"].(string); ok {
			score.Name = name
		}
		val, ok := v["score"].(float64)
		if !ok {
			return nil, fmt.Errorf("scorer output has no numeric score: %v", v)
		}
		score.Score = val
		if metadata, ok := v["metadata"].(map[string]any); ok {
			score.Metadata = metadata
		}
		return Scores{score}, nil
	default:
		return nil, fmt.Errorf("scorer output type mismatch: expected map or number, got %T", output)
	}
}
