// Package evaluator binds a named evaluation to its data, task, scorers and
// parameters, and runs it on request.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

// ErrNoData is returned when neither the run nor the evaluator names any data.
var ErrNoData = errors.New("no data source specified")

// ErrDataset wraps failures to find or open the run's dataset.
var ErrDataset = errors.New("failed to load dataset")

// DataSource says where an evaluation's cases come from. Exactly one of
// DatasetID, DatasetName and Inline is used, in that order of precedence.
type DataSource struct {
	// ProjectName is the project that owns DatasetName. Defaults to the
	// evaluator's project.
	ProjectName string
	DatasetName string
	DatasetID   string
	// Inline records are used as-is: a map record supplies input, expected
	// and tags from its keys, anything else is the input.
	Inline []any
}

// IsZero reports whether d names no data at all.
func (d DataSource) IsZero() bool {
	return d.DatasetID == "" && d.DatasetName == "" && len(d.Inline) == 0
}

// Evaluator is one evaluation loaded from a definition file. It is read-only
// after construction and safe to run concurrently.
type Evaluator struct {
	Name           string
	ExperimentName string
	ProjectName    string
	Data           DataSource
	Task           eval.TaskFunc[any, any]
	// Scorers run locally.
	Scorers []eval.Scorer[any, any]
	// HostedScorers are slugs of Braintrust functions in the evaluator's
	// project, loaded with the caller's credentials on every run.
	HostedScorers []string
	Parameters    map[string]parameters.Descriptor
	Parallelism   int
	Tags          []string
	Metadata      map[string]any
	// Source is the definition file the evaluator came from.
	Source string
}

// Validate reports a missing name, project or task.
func (e *Evaluator) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("evaluator name is required")
	}
	if e.ProjectName == "" {
		return fmt.Errorf("evaluator %q: project is required", e.Name)
	}
	if e.Task == nil {
		return fmt.Errorf("evaluator %q: task is required", e.Name)
	}
	return nil
}

// ScorerNames returns the names scores are reported under, local scorers
// first.
func (e *Evaluator) ScorerNames() []string {
	out := make([]string, 0, len(e.Scorers)+len(e.HostedScorers))
	for _, s := range e.Scorers {
		out = append(out, s.Name())
	}
	return append(out, e.HostedScorers...)
}

// RunOpts are the per-request inputs of a run.
type RunOpts struct {
	// Target is where the experiment is recorded. Required.
	Target eval.Target
	// TracerProvider records the run's spans. Defaults to the global provider.
	TracerProvider oteltrace.TracerProvider
	// ExperimentName overrides the evaluator's experiment name.
	ExperimentName string
	// ProjectID records the experiment in this project instead of the
	// evaluator's project.
	ProjectID string
	// Data overrides the evaluator's data source when it is not zero.
	Data DataSource
	// Parameters are the values supplied for the evaluator's parameters.
	Parameters parameters.Bundle
	// Limit runs only the first Limit cases when positive.
	Limit  int
	OnCase func(eval.CaseResult[any, any])
}

// Run records one experiment for e.
func (e *Evaluator) Run(ctx context.Context, opts RunOpts) (*eval.Result, error) {
	if opts.Target.API == nil {
		return nil, fmt.Errorf("evaluator %q: an API client is required", e.Name)
	}
	ev := eval.NewEvaluator[any, any](opts.Target, opts.TracerProvider)

	cases, datasetID, err := e.cases(ctx, ev, opts.Data)
	if err != nil {
		return nil, err
	}

	scorers := append([]eval.Scorer[any, any]{}, e.Scorers...)
	for _, slug := range e.HostedScorers {
		s, err := ev.Scorers(e.ProjectName).Get(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("evaluator %q: loading hosted scorer %q: %w", e.Name, slug, err)
		}
		scorers = append(scorers, s)
	}

	experiment := opts.ExperimentName
	if experiment == "" {
		experiment = e.ExperimentName
	}
	if experiment == "" {
		experiment = e.Name
	}

	return ev.Run(ctx, eval.Opts[any, any]{
		Experiment:  experiment,
		ProjectName: e.ProjectName,
		ProjectID:   opts.ProjectID,
		DatasetID:   datasetID,
		Cases:       eval.Limit(cases, opts.Limit),
		Task:        e.Task,
		Scorers:     scorers,
		Tags:        e.Tags,
		Metadata:    e.Metadata,
		Parallelism: e.Parallelism,
		Parameters:  opts.Parameters,
		OnCase:      opts.OnCase,
	})
}

// cases opens the run's data source. The override wins over the evaluator's
// own source as a whole.
func (e *Evaluator) cases(ctx context.Context, ev *eval.Evaluator[any, any], override DataSource) (eval.Cases[any, any], string, error) {
	src := e.Data
	if !override.IsZero() {
		src = override
	}

	switch {
	case src.DatasetID != "":
		cases, err := ev.Datasets().Get(ctx, src.DatasetID)
		if err != nil {
			return nil, "", fmt.Errorf("evaluator %q: %w: %w", e.Name, ErrDataset, err)
		}
		return cases, src.DatasetID, nil
	case src.DatasetName != "":
		project := src.ProjectName
		if project == "" {
			project = e.ProjectName
		}
		cases, err := ev.Datasets().Query(ctx, eval.DatasetQueryOpts{ProjectName: project, Name: src.DatasetName})
		if err != nil {
			return nil, "", fmt.Errorf("evaluator %q: %w: %w", e.Name, ErrDataset, err)
		}
		// Cases from DatasetAPI carry their dataset id; eval.Run links it.
		return cases, "", nil
	case len(src.Inline) > 0:
		return InlineCases(src.Inline), "", nil
	default:
		return nil, "", fmt.Errorf("evaluator %q: %w", e.Name, ErrNoData)
	}
}

// InlineCases turns literal records into cases. A map record supplies its
// "input", "expected" and "tags" keys and is kept whole as the case metadata;
// any other record is the input itself.
func InlineCases(records []any) eval.Cases[any, any] {
	cases := make([]eval.Case[any, any], len(records))
	for i, record := range records {
		m, ok := record.(map[string]any)
		if !ok {
			cases[i] = eval.Case[any, any]{Input: record}
			continue
		}
		cases[i] = eval.Case[any, any]{
			Input:    m["input"],
			Expected: m["expected"],
			Tags:     stringSlice(m["tags"]),
			Metadata: m,
		}
	}
	return eval.NewCases(cases)
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
