// Package eval runs evaluations: it registers an experiment, runs a task over
// every case, scores the results and records eval, task and score spans.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/braintrustdata/braintrust-eval-server/api"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
	"github.com/braintrustdata/braintrust-eval-server/trace"
)

// DefaultAppURL is used for links when the target has no app URL.
const DefaultAppURL = "https://www.braintrust.dev"

var (
	// Private error variables (users don't need to check these)
	errEval         = errors.New("eval error")
	errScorer       = errors.New("scorer error")
	errTaskRun      = errors.New("task run error")
	errCaseIterator = errors.New("case iterator error")
)

var (
	// braintrust "span_attributes" for each type of eval span.
	evalSpanAttrs  = map[string]any{"type": "eval"}
	taskSpanAttrs  = map[string]any{"type": "task"}
	scoreSpanAttrs = map[string]any{"type": "score"}
)

// Opts defines the options for running an evaluation.
// I is the input type and R is the result/output type.
type Opts[I, R any] struct {
	// Experiment is the name of the experiment to create or use.
	// Required.
	Experiment string

	// ProjectName is the project the experiment belongs to. Required unless
	// ProjectID is set.
	ProjectName string

	// ProjectID selects the project by id and takes precedence over ProjectName.
	ProjectID string

	// DatasetID links the experiment to a dataset. Cases loaded through
	// DatasetAPI set it automatically.
	DatasetID string

	// Cases is an iterator over the test cases to evaluate.
	// Required.
	Cases Cases[I, R]

	// Task is the function to evaluate for each case.
	// Required.
	Task TaskFunc[I, R]

	// Scorers are the scoring functions to apply to each case result.
	Scorers []Scorer[I, R]

	// Tags are labels to attach to the experiment.
	Tags []string

	// Metadata is additional metadata to attach to the experiment.
	Metadata map[string]any

	// Update reuses an existing experiment with the same name.
	Update bool

	// Parallelism is the number of cases run at once. Defaults to 1.
	Parallelism int

	// Parameters are handed to the task through TaskHooks.
	Parameters parameters.Bundle

	// OnCase is called once per finished case. Calls never overlap.
	OnCase func(CaseResult[I, R])
}

// Case represents a single test case in an evaluation.
type Case[I, R any] struct {
	// Input is the input to the task function.
	Input I

	// Expected is the expected output (for scoring).
	Expected R

	// Tags are labels to attach to this case.
	Tags []string

	// Metadata is additional metadata for this case.
	Metadata map[string]any
}

// Cases is an iterator interface for test cases.
// Implementations must return io.EOF when iteration is complete.
type Cases[I, R any] interface {
	// Next returns the next case, or io.EOF if there are no more cases.
	Next() (Case[I, R], error)
}

// Metadata is a map of strings to a JSON-encodable value. It is used to store arbitrary metadata about a case.
type Metadata map[string]any

// CaseResult reports one finished case.
type CaseResult[I, R any] struct {
	// SpanID is the id of the case's eval span.
	SpanID   string
	Input    I
	Expected R
	Output   R
	Scores   Scores
	// Err is set when the task or a scorer failed.
	Err error
}

// Target is where an evaluation is recorded: the API client to register the
// experiment with and the app coordinates used to build links.
type Target struct {
	API     *api.API
	AppURL  string
	OrgName string
}

func (t Target) appURL() string {
	if t.AppURL == "" {
		return DefaultAppURL
	}
	return strings.TrimRight(t.AppURL, "/")
}

// eval (private) is the execution engine for evaluations.
type eval[I, R any] struct {
	target         Target
	experimentID   string
	experimentName string
	projectID      string
	projectName    string
	cases          Cases[I, R]
	task           TaskFunc[I, R]
	scorers        []Scorer[I, R]
	tracer         oteltrace.Tracer
	startSpanOpt   oteltrace.SpanStartOption
	goroutines     int
	parameters     parameters.Bundle

	onCase   func(CaseResult[I, R])
	onCaseMu sync.Mutex
	tally    *scoreTally
}

// nextCase pairs a case with the error its iterator returned.
type nextCase[I, R any] struct {
	c       Case[I, R]
	iterErr error
}

func newEval[I, R any](ctx context.Context, target Target, tp oteltrace.TracerProvider, opts Opts[I, R]) (*eval[I, R], error) {
	if opts.DatasetID == "" {
		if d, ok := opts.Cases.(interface{ DatasetID() string }); ok {
			opts.DatasetID = d.DatasetID()
		}
	}

	project, exp, err := registerExperiment(ctx, target.API, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errEval, err)
	}

	e := newEvalWithIDs(target, tp.Tracer("braintrust.eval"), exp.ID, exp.Name, project.ID, project.Name, opts)
	return e, nil
}

func newEvalWithIDs[I, R any](target Target, tracer oteltrace.Tracer, experimentID, experimentName, projectID, projectName string, opts Opts[I, R]) *eval[I, R] {
	goroutines := opts.Parallelism
	if goroutines < 1 {
		goroutines = 1
	}

	return &eval[I, R]{
		target:         target,
		experimentID:   experimentID,
		experimentName: experimentName,
		projectID:      projectID,
		projectName:    projectName,
		cases:          opts.Cases,
		task:           opts.Task,
		scorers:        opts.Scorers,
		tracer:         tracer,
		startSpanOpt:   oteltrace.WithAttributes(experimentParent(experimentID).Attr()),
		goroutines:     goroutines,
		parameters:     opts.Parameters,
		onCase:         opts.OnCase,
		tally:          newScoreTally(),
	}
}

// run executes every case on a pool of e.goroutines workers. It stops pulling
// cases once ctx is done.
func (e *eval[I, R]) run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if e.experimentID == "" {
		return nil, fmt.Errorf("%w: experiment ID is required", errEval)
	}

	pool, err := ants.NewPool(e.goroutines)
	if err != nil {
		return nil, fmt.Errorf("%w: creating worker pool: %w", errEval, err)
	}
	defer pool.Release()

	var (
		errs  lockedErrors
		wg    sync.WaitGroup
		count int
	)
	for {
		if ctx.Err() != nil {
			errs.append(fmt.Errorf("%w: %w", errEval, context.Cause(ctx)))
			break
		}
		c, err := e.cases.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		next := nextCase[I, R]{c: c, iterErr: err}
		count++

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := e.runNextCase(ctx, next); err != nil {
				errs.append(err)
			}
		})
		if submitErr != nil {
			wg.Done()
			errs.append(fmt.Errorf("%w: scheduling case: %w", errEval, submitErr))
			break
		}
	}
	wg.Wait()

	err = errors.Join(errs.get()...)
	result := &Result{
		key: key{
			experimentID: e.experimentID,
			name:         e.experimentName,
			projectID:    e.projectID,
			projectName:  e.projectName,
		},
		err:        err,
		elapsed:    time.Since(start),
		permalink:  e.permalink(),
		projectURL: e.projectURL(),
		scores:     e.tally.summaries(),
		cases:      count,
	}
	return result, err
}

func experimentParent(experimentID string) trace.Parent {
	return trace.Parent{Type: trace.ParentTypeExperimentID, ID: experimentID}
}

// runNextCase opens the case's eval span. Eval spans are roots linked to the
// caller's span, so they group under the experiment rather than the request.
func (e *eval[I, R]) runNextCase(ctx context.Context, next nextCase[I, R]) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", errEval, context.Cause(ctx))
	}
	opts := []oteltrace.SpanStartOption{e.startSpanOpt, oteltrace.WithNewRoot()}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		opts = append(opts, oteltrace.WithLinks(oteltrace.Link{SpanContext: sc}))
	}
	ctx = trace.SetParent(ctx, experimentParent(e.experimentID))
	ctx, span := e.tracer.Start(ctx, "eval", opts...)
	defer span.End()

	if next.iterErr != nil {
		werr := fmt.Errorf("%w: %w", errCaseIterator, next.iterErr)
		recordSpanError(span, werr)
		e.report(CaseResult[I, R]{SpanID: span.SpanContext().SpanID().String(), Err: werr})
		return werr
	}

	return e.runCase(ctx, span, next.c)
}

// runCase orchestrates task + scorers for one case.
func (e *eval[I, R]) runCase(ctx context.Context, span oteltrace.Span, c Case[I, R]) error {
	res := CaseResult[I, R]{
		SpanID:   span.SpanContext().SpanID().String(),
		Input:    c.Input,
		Expected: c.Expected,
	}
	defer func() { e.report(res) }()

	if c.Tags != nil {
		span.SetAttributes(attribute.StringSlice("braintrust.tags", c.Tags))
	}

	meta := map[string]any{
		"braintrust.span_attributes": evalSpanAttrs,
		"braintrust.input_json":      c.Input,
		"braintrust.expected":        c.Expected,
	}
	if c.Metadata != nil {
		meta["braintrust.metadata"] = c.Metadata
	}
	if err := setJSONAttrs(span, meta); err != nil {
		res.Err = err
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	output, err := e.runTask(ctx, span, c)
	res.Output = output
	if err != nil {
		res.Err = err
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := setJSONAttr(span, "braintrust.output_json", output); err != nil {
		res.Err = err
		return err
	}

	scores, err := e.runScorers(ctx, c, output)
	res.Scores = scores
	e.tally.add(scores)
	if err != nil {
		res.Err = err
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// runTask executes the task function and creates a task span.
func (e *eval[I, R]) runTask(ctx context.Context, evalSpan oteltrace.Span, c Case[I, R]) (R, error) {
	ctx, taskSpan := e.tracer.Start(ctx, "task", e.startSpanOpt)
	defer taskSpan.End()

	var encodeErrs []error
	for key, value := range map[string]any{
		"braintrust.input_json":      c.Input,
		"braintrust.expected":        c.Expected,
		"braintrust.span_attributes": taskSpanAttrs,
	} {
		if err := setJSONAttr(taskSpan, key, value); err != nil {
			encodeErrs = append(encodeErrs, err)
		}
	}

	hooks := &TaskHooks{
		Expected:   c.Expected,
		Metadata:   c.Metadata,
		Tags:       c.Tags,
		Parameters: e.parameters,
		TaskSpan:   taskSpan,
		EvalSpan:   evalSpan,
	}

	taskOutput, err := e.task(ctx, c.Input, hooks)
	if err != nil {
		taskErr := fmt.Errorf("%w: %w", errTaskRun, err)
		recordSpanError(taskSpan, taskErr)
		var zero R
		return zero, taskErr
	}

	result := taskOutput.Value
	if err := setJSONAttr(taskSpan, "braintrust.output_json", result); err != nil {
		encodeErrs = append(encodeErrs, err)
	}
	if len(taskOutput.Metadata) > 0 {
		if err := setJSONAttr(taskSpan, "braintrust.metadata", taskOutput.Metadata); err != nil {
			encodeErrs = append(encodeErrs, err)
		}
	}
	return result, errors.Join(encodeErrs...)
}

// runScorers executes all scorers under one score span. A failing scorer does
// not stop the others.
func (e *eval[I, R]) runScorers(ctx context.Context, c Case[I, R], result R) (Scores, error) {
	ctx, span := e.tracer.Start(ctx, "score", e.startSpanOpt)
	defer span.End()

	if err := setJSONAttr(span, "braintrust.span_attributes", scoreSpanAttrs); err != nil {
		return nil, err
	}

	taskResult := TaskResult[I, R]{
		Input:    c.Input,
		Expected: c.Expected,
		Output:   result,
		Metadata: c.Metadata,
	}

	var (
		scores Scores
		errs   []error
	)
	for _, scorer := range e.scorers {
		curScores, err := scorer.Run(ctx, taskResult)
		if err != nil {
			werr := fmt.Errorf("%w: scorer %q failed: %w", errScorer, scorer.Name(), err)
			recordSpanError(span, werr)
			errs = append(errs, werr)
			continue
		}
		for _, score := range curScores {
			if score.Name == "" {
				score.Name = scorer.Name()
			}
			scores = append(scores, score)
		}
	}

	if err := setJSONAttr(span, "braintrust.scores", ScoreMap(scores)); err != nil {
		return scores, err
	}

	// A single score is flattened to the top level; several are keyed by name.
	switch {
	case len(scores) == 1:
		score := scores[0]
		if score.Metadata != nil {
			if err := setJSONAttr(span, "braintrust.metadata", score.Metadata); err != nil {
				return scores, err
			}
		}
		if err := setJSONAttr(span, "braintrust.output", map[string]any{"score": score.Score}); err != nil {
			return scores, err
		}
	case len(scores) > 1:
		metadata := make(map[string]any, len(scores))
		output := make(map[string]any, len(scores))
		for _, score := range scores {
			if score.Metadata != nil {
				metadata[score.Name] = score.Metadata
			}
			output[score.Name] = map[string]any{"score": score.Score}
		}
		if len(metadata) > 0 {
			if err := setJSONAttr(span, "braintrust.metadata", metadata); err != nil {
				return scores, err
			}
		}
		if err := setJSONAttr(span, "braintrust.output", output); err != nil {
			return scores, err
		}
	}

	return scores, errors.Join(errs...)
}

func (e *eval[I, R]) report(res CaseResult[I, R]) {
	if e.onCase == nil {
		return
	}
	e.onCaseMu.Lock()
	defer e.onCaseMu.Unlock()
	e.onCase(res)
}

// permalink returns the experiment's page in the Braintrust UI, or "" when
// the org is unknown.
func (e *eval[I, R]) permalink() string {
	if e.target.OrgName == "" || e.experimentID == "" {
		return ""
	}
	return fmt.Sprintf("%s/app/%s/object?object_type=experiment&object_id=%s", e.target.appURL(), e.target.OrgName, e.experimentID)
}

func (e *eval[I, R]) projectURL() string {
	if e.target.OrgName == "" || e.projectID == "" {
		return ""
	}
	return fmt.Sprintf("%s/app/%s/p/%s", e.target.appURL(), e.target.OrgName, e.projectID)
}

// Run registers the experiment on target and executes the evaluation. A nil
// tp uses the global tracer provider.
func Run[I, R any](ctx context.Context, opts Opts[I, R], target Target, tp oteltrace.TracerProvider) (*Result, error) {
	if opts.Experiment == "" {
		return nil, fmt.Errorf("%w: Experiment is required", errEval)
	}
	if opts.Cases == nil {
		return nil, fmt.Errorf("%w: Cases is required", errEval)
	}
	if opts.Task == nil {
		return nil, fmt.Errorf("%w: Task is required", errEval)
	}
	if target.API == nil {
		return nil, fmt.Errorf("%w: an API client is required", errEval)
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	e, err := newEval(ctx, target, tp, opts)
	if err != nil {
		return nil, err
	}
	return e.run(ctx)
}

// scoreTally accumulates per-name score sums across cases.
type scoreTally struct {
	mu     sync.Mutex
	sums   map[string]float64
	counts map[string]int
}

func newScoreTally() *scoreTally {
	return &scoreTally{sums: make(map[string]float64), counts: make(map[string]int)}
}

func (t *scoreTally) add(scores Scores) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range scores {
		t.sums[s.Name] += s.Score
		t.counts[s.Name]++
	}
}

func (t *scoreTally) summaries() map[string]ScoreSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ScoreSummary, len(t.sums))
	for name, sum := range t.sums {
		out[name] = ScoreSummary{Name: name, Score: sum / float64(t.counts[name]), Count: t.counts[name]}
	}
	return out
}

func setJSONAttrs(span oteltrace.Span, attrs map[string]any) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := setJSONAttr(span, key, attrs[key]); err != nil {
			return err
		}
	}
	return nil
}

func setJSONAttr(span oteltrace.Span, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	span.SetAttributes(attribute.String(key, string(b)))
	return nil
}

func recordSpanError(span oteltrace.Span, err error) {
	// otel would report *fmt.wrapErrors as the type; name the failure class
	// instead so the UI shows something useful.
	var errType string
	switch {
	case errors.Is(err, errScorer):
		errType = "ErrScorer"
	case errors.Is(err, errTaskRun):
		errType = "ErrTaskRun"
	case errors.Is(err, errCaseIterator):
		errType = "ErrCaseIterator"
	case errors.Is(err, errEval):
		errType = "ErrEval"
	default:
		errType = fmt.Sprintf("%T", err)
	}

	span.AddEvent("exception", oteltrace.WithAttributes(
		attribute.String("exception.type", errType),
		attribute.String("exception.message", err.Error()),
	))
	span.SetStatus(codes.Error, err.Error())
}

// lockedErrors is a thread-safe list of errors.
type lockedErrors struct {
	mu   sync.Mutex
	errs []error
}

func (e *lockedErrors) append(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

func (e *lockedErrors) get() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errs
}
