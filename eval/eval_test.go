package eval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/braintrustdata/braintrust-eval-server/api"
	"github.com/braintrustdata/braintrust-eval-server/internal/oteltest"
	"github.com/braintrustdata/braintrust-eval-server/internal/tests"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

type testInput struct {
	Value string `json:"value"`
}

type testOutput struct {
	Result string `json:"result"`
}

var testTarget = Target{AppURL: "https://test.braintrust.dev", OrgName: "test-org"}

type unitTestEval[I, R any] struct {
	eval     *eval[I, R]
	exporter *oteltest.Exporter
}

// newUnitTestEval builds an eval with fixed experiment and project ids that
// makes no API calls.
func newUnitTestEval[I, R any](t *testing.T, opts Opts[I, R]) *unitTestEval[I, R] {
	t.Helper()
	tracer, exporter := oteltest.Setup(t)
	e := newEvalWithIDs(testTarget, tracer, "exp-12345678", "test-experiment", "proj-87654321", "test-project", opts)
	return &unitTestEval[I, R]{eval: e, exporter: exporter}
}

type simpleScorer struct {
	name  string
	score float64
	meta  map[string]any
	err   error
}

func (s *simpleScorer) Name() string {
	return s.name
}

func (s *simpleScorer) Run(_ context.Context, _ TaskResult[testInput, testOutput]) (Scores, error) {
	if s.err != nil {
		return nil, s.err
	}
	return Scores{{Name: s.name, Score: s.score, Metadata: s.meta}}, nil
}

func echoTask() TaskFunc[testInput, testOutput] {
	return T(func(_ context.Context, input testInput) (testOutput, error) {
		return testOutput{Result: "output-" + input.Value}, nil
	})
}

func TestEval_Success(t *testing.T) {
	var results []CaseResult[testInput, testOutput]
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases([]Case[testInput, testOutput]{
			{
				Input:    testInput{Value: "test1"},
				Expected: testOutput{Result: "expected1"},
				Tags:     []string{"tag1", "tag2"},
				Metadata: map[string]any{"key": "value"},
			},
			{Input: testInput{Value: "test2"}, Expected: testOutput{Result: "expected2"}},
		}),
		Task:    echoTask(),
		Scorers: []Scorer[testInput, testOutput]{&simpleScorer{name: "accuracy", score: 0.5, meta: map[string]any{"note": "good"}}},
		OnCase:  func(r CaseResult[testInput, testOutput]) { results = append(results, r) },
	})

	result, err := ute.eval.run(context.Background())
	require.NoError(t, err)

	link, err := result.Permalink()
	require.NoError(t, err)
	assert.Equal(t, "https://test.braintrust.dev/app/test-org/object?object_type=experiment&object_id=exp-12345678", link)
	assert.Equal(t, "https://test.braintrust.dev/app/test-org/p/proj-87654321", result.ProjectURL())
	assert.Equal(t, "test-experiment", result.Name())
	assert.Equal(t, "exp-12345678", result.ID())
	assert.Equal(t, "test-project", result.ProjectName())
	assert.Equal(t, 2, result.Cases())
	assert.Equal(t, map[string]ScoreSummary{"accuracy": {Name: "accuracy", Score: 0.5, Count: 2}}, result.Scores())

	require.Len(t, results, 2)
	assert.Equal(t, testOutput{Result: "output-test1"}, results[0].Output)
	assert.NotEmpty(t, results[0].SpanID)
	assert.NoError(t, results[0].Err)

	spans := oteltest.ByName(ute.exporter.Flush())
	require.Len(t, spans["eval"], 2)
	require.Len(t, spans["task"], 2)
	require.Len(t, spans["score"], 2)

	first := spans["eval"][0]
	first.AssertOK()
	assert.Empty(t, first.ParentSpanID())
	assert.Equal(t, "experiment_id:exp-12345678", first.Attr("braintrust.parent"))
	first.AssertJSONAttrEquals("braintrust.span_attributes", map[string]any{"type": "eval"})
	first.AssertJSONAttrEquals("braintrust.input_json", testInput{Value: "test1"})
	first.AssertJSONAttrEquals("braintrust.output_json", testOutput{Result: "output-test1"})
	first.AssertJSONAttrEquals("braintrust.expected", testOutput{Result: "expected1"})
	first.AssertJSONAttrEquals("braintrust.metadata", map[string]any{"key": "value"})
	assert.Contains(t, first.Stub.Attributes, attribute.StringSlice("braintrust.tags", []string{"tag1", "tag2"}))

	task := spans["task"][0]
	assert.Equal(t, first.SpanID(), task.ParentSpanID())
	task.AssertJSONAttrEquals("braintrust.span_attributes", map[string]any{"type": "task"})
	task.AssertJSONAttrEquals("braintrust.output_json", testOutput{Result: "output-test1"})

	score := spans["score"][0]
	assert.Equal(t, first.SpanID(), score.ParentSpanID())
	score.AssertJSONAttrEquals("braintrust.scores", map[string]any{"accuracy": 0.5})
	score.AssertJSONAttrEquals("braintrust.output", map[string]any{"score": 0.5})
	score.AssertJSONAttrEquals("braintrust.metadata", map[string]any{"note": "good"})
}

func TestEval_DefaultParallelism(t *testing.T) {
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{Cases: NewCases[testInput, testOutput](nil), Task: echoTask()})
	assert.Equal(t, 1, ute.eval.goroutines)

	ute = newUnitTestEval(t, Opts[testInput, testOutput]{Cases: NewCases[testInput, testOutput](nil), Task: echoTask(), Parallelism: 4})
	assert.Equal(t, 4, ute.eval.goroutines)
}

func TestEval_TaskError(t *testing.T) {
	var results []CaseResult[testInput, testOutput]
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases([]Case[testInput, testOutput]{{Input: testInput{Value: "boom"}}}),
		Task: T(func(_ context.Context, _ testInput) (testOutput, error) {
			return testOutput{}, errors.New("model unavailable")
		}),
		Scorers: []Scorer[testInput, testOutput]{&simpleScorer{name: "accuracy", score: 1}},
		OnCase:  func(r CaseResult[testInput, testOutput]) { results = append(results, r) },
	})

	result, err := ute.eval.run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errTaskRun)
	assert.ErrorIs(t, result.Error(), errTaskRun)
	assert.Empty(t, result.Scores())

	require.Len(t, results, 1)
	assert.ErrorContains(t, results[0].Err, "model unavailable")

	spans := oteltest.ByName(ute.exporter.Flush())
	assert.Empty(t, spans["score"])
	spans["task"][0].AssertError("model unavailable")
	assert.Equal(t, codes.Error, spans["eval"][0].Status().Code)

	var errType string
	for _, ev := range spans["task"][0].Stub.Events {
		for _, kv := range ev.Attributes {
			if kv.Key == "exception.type" {
				errType = kv.Value.AsString()
			}
		}
	}
	assert.Equal(t, "ErrTaskRun", errType)
}

func TestEval_ScorerErrorKeepsOtherScores(t *testing.T) {
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases([]Case[testInput, testOutput]{{Input: testInput{Value: "a"}}}),
		Task:  echoTask(),
		Scorers: []Scorer[testInput, testOutput]{
			&simpleScorer{name: "broken", err: errors.New("judge timeout")},
			&simpleScorer{name: "accuracy", score: 0.8},
		},
	})

	result, err := ute.eval.run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errScorer)
	assert.Contains(t, err.Error(), `scorer "broken" failed`)
	assert.Equal(t, 0.8, result.Scores()["accuracy"].Score)

	score := oteltest.ByName(ute.exporter.Flush())["score"][0]
	score.AssertError("judge timeout")
	score.AssertJSONAttrEquals("braintrust.scores", map[string]any{"accuracy": 0.8})
}

func TestEval_MultipleScoresAreNested(t *testing.T) {
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases([]Case[testInput, testOutput]{{Input: testInput{Value: "a"}}}),
		Task:  echoTask(),
		Scorers: []Scorer[testInput, testOutput]{
			&simpleScorer{name: "a", score: 1, meta: map[string]any{"why": "x"}},
			&simpleScorer{name: "b", score: 0},
		},
	})

	_, err := ute.eval.run(context.Background())
	require.NoError(t, err)

	score := oteltest.ByName(ute.exporter.Flush())["score"][0]
	score.AssertJSONAttrEquals("braintrust.output", map[string]any{"a": map[string]any{"score": 1}, "b": map[string]any{"score": 0}})
	score.AssertJSONAttrEquals("braintrust.metadata", map[string]any{"a": map[string]any{"why": "x"}})
}

func TestEval_DefaultScoreNameFromScorer(t *testing.T) {
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases([]Case[testInput, testOutput]{{Input: testInput{Value: "a"}}}),
		Task:  echoTask(),
		Scorers: []Scorer[testInput, testOutput]{
			NewScorer("unnamed", func(context.Context, TaskResult[testInput, testOutput]) (Scores, error) {
				return S(0.25), nil
			}),
		},
	})

	result, err := ute.eval.run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Scores(), "unnamed")
}

type customCases[I, R any] struct {
	items []func() (Case[I, R], error)
}

func (c *customCases[I, R]) Next() (Case[I, R], error) {
	if len(c.items) == 0 {
		var zero Case[I, R]
		return zero, io.EOF
	}
	next := c.items[0]
	c.items = c.items[1:]
	return next()
}

func TestEval_IteratorErrors(t *testing.T) {
	ok := func(v string) func() (Case[testInput, testOutput], error) {
		return func() (Case[testInput, testOutput], error) {
			return Case[testInput, testOutput]{Input: testInput{Value: v}}, nil
		}
	}
	bad := func() (Case[testInput, testOutput], error) {
		return Case[testInput, testOutput]{}, errors.New("bad record")
	}

	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases:       &customCases[testInput, testOutput]{items: []func() (Case[testInput, testOutput], error){ok("a"), bad, ok("b")}},
		Task:        echoTask(),
		Parallelism: 2,
	})

	result, err := ute.eval.run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errCaseIterator)
	assert.Equal(t, 3, result.Cases())

	spans := oteltest.ByName(ute.exporter.Flush())
	assert.Len(t, spans["eval"], 3)
	assert.Len(t, spans["task"], 2)
}

func TestEval_Parallel(t *testing.T) {
	var cases []Case[testInput, testOutput]
	for i := 0; i < 20; i++ {
		cases = append(cases, Case[testInput, testOutput]{Input: testInput{Value: fmt.Sprint(i)}})
	}

	var running, peak atomic.Int32
	started := make(chan struct{}, 20)
	release := make(chan struct{})
	go func() {
		for i := 0; i < 4; i++ {
			<-started
		}
		close(release)
	}()

	var seen int
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases(cases),
		Task: T(func(_ context.Context, in testInput) (testOutput, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			started <- struct{}{}
			<-release
			running.Add(-1)
			return testOutput{Result: in.Value}, nil
		}),
		Scorers:     []Scorer[testInput, testOutput]{&simpleScorer{name: "s", score: 1}},
		Parallelism: 4,
		OnCase:      func(CaseResult[testInput, testOutput]) { seen++ },
	})

	result, err := ute.eval.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, result.Cases())
	assert.Equal(t, 20, seen)
	assert.Equal(t, int32(4), peak.Load())
	assert.Equal(t, ScoreSummary{Name: "s", Score: 1, Count: 20}, result.Scores()["s"])
}

func TestEval_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases([]Case[testInput, testOutput]{{Input: testInput{Value: "a"}}, {Input: testInput{Value: "b"}}, {Input: testInput{Value: "c"}}}),
		Task: T(func(_ context.Context, in testInput) (testOutput, error) {
			calls++
			cancel()
			return testOutput{Result: in.Value}, nil
		}),
	})

	_, err := ute.eval.run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestTaskHooks(t *testing.T) {
	bundle := parameters.Bundle{parameters.PromptKey: &parameters.PromptValue{Options: map[string]any{"model": "gpt-4o"}}}
	var got *TaskHooks
	ute := newUnitTestEval(t, Opts[testInput, testOutput]{
		Cases: NewCases([]Case[testInput, testOutput]{{
			Input:    testInput{Value: "a"},
			Expected: testOutput{Result: "b"},
			Tags:     []string{"t"},
			Metadata: map[string]any{"m": 1},
		}}),
		Task: func(_ context.Context, _ testInput, hooks *TaskHooks) (TaskOutput[testOutput], error) {
			got = hooks
			hooks.TaskSpan.SetAttributes(attribute.String("custom", "task"))
			hooks.EvalSpan.SetAttributes(attribute.String("custom", "eval"))
			return TaskOutput[testOutput]{Value: testOutput{}, Metadata: Metadata{"model": "gpt-4o"}}, nil
		},
		Parameters: bundle,
	})

	_, err := ute.eval.run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testOutput{Result: "b"}, got.Expected)
	assert.Equal(t, Metadata{"m": 1}, got.Metadata)
	assert.Equal(t, []string{"t"}, got.Tags)
	assert.Equal(t, bundle, got.Parameters)
	assert.Equal(t, "gpt-4o", got.Prompt(parameters.PromptKey).Options["model"])
	assert.Nil(t, (*TaskHooks)(nil).Prompt(parameters.PromptKey))

	spans := oteltest.ByName(ute.exporter.Flush())
	assert.Equal(t, "task", spans["task"][0].Attr("custom"))
	spans["task"][0].AssertJSONAttrEquals("braintrust.metadata", map[string]any{"model": "gpt-4o"})
	assert.Equal(t, "eval", spans["eval"][0].Attr("custom"))
}

func TestRun_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cases := NewCases([]Case[testInput, testOutput]{{}})

	_, err := Run(ctx, Opts[testInput, testOutput]{Cases: cases, Task: echoTask()}, testTarget, nil)
	assert.ErrorIs(t, err, errEval)
	_, err = Run(ctx, Opts[testInput, testOutput]{Experiment: "e", Task: echoTask()}, testTarget, nil)
	assert.ErrorIs(t, err, errEval)
	_, err = Run(ctx, Opts[testInput, testOutput]{Experiment: "e", Cases: cases}, testTarget, nil)
	assert.ErrorIs(t, err, errEval)
	_, err = Run(ctx, Opts[testInput, testOutput]{Experiment: "e", Cases: cases, Task: echoTask()}, testTarget, nil)
	assert.ErrorContains(t, err, "API client")
}

func newFakeTarget(t *testing.T) (Target, *tests.FakeAPI) {
	t.Helper()
	fake := tests.NewFakeAPI(t, map[string]string{"sk-caller": "acme"})
	client, err := api.NewClient("sk-caller", api.WithAPIURL(fake.URL))
	require.NoError(t, err)
	return Target{API: client, AppURL: "https://app.test", OrgName: "acme"}, fake
}

func TestEvaluator_RunWithDatasetAndHostedScorer(t *testing.T) {
	target, fake := newFakeTarget(t)
	datasetID := fake.AddDataset("demo", "greetings",
		map[string]any{"input": map[string]any{"value": "hi"}, "expected": map[string]any{"result": "output-hi"}},
		map[string]any{"input": map[string]any{"value": "yo"}, "expected": map[string]any{"result": "nope"}},
	)
	fake.AddFunction("demo", "exact", "Exact", func(input map[string]any) any {
		if fmt.Sprint(input["output"]) == fmt.Sprint(input["expected"]) {
			return map[string]any{"name": "Exact", "score": 1.0}
		}
		return 0.0
	})

	tp, exporter := oteltest.SetupProvider(t)
	evaluator := NewEvaluator[testInput, testOutput](target, tp)
	ctx := context.Background()

	cases, err := evaluator.Datasets().Query(ctx, DatasetQueryOpts{ProjectName: "demo", Name: "greetings"})
	require.NoError(t, err)
	scorer, err := evaluator.Scorers("demo").Get(ctx, "exact")
	require.NoError(t, err)
	assert.Equal(t, "Exact", scorer.Name())

	result, err := evaluator.Run(ctx, Opts[testInput, testOutput]{
		Experiment:  "nightly",
		ProjectName: "demo",
		Cases:       cases,
		Task:        echoTask(),
		Scorers:     []Scorer[testInput, testOutput]{scorer},
	})
	require.NoError(t, err)
	assert.Equal(t, "exp-nightly", result.ID())
	assert.Equal(t, "proj-demo", result.ProjectID())
	assert.Equal(t, ScoreSummary{Name: "Exact", Score: 0.5, Count: 2}, result.Scores()["Exact"])
	assert.Equal(t, "https://app.test/app/acme/object?object_type=experiment&object_id=exp-nightly", result.permalink)

	reqs := fake.RequestsTo("/v1/experiment")
	require.Len(t, reqs, 1)
	assert.Equal(t, datasetID, reqs[0].Body["dataset_id"])
	assert.Equal(t, "sk-caller", reqs[0].Auth)

	assert.Len(t, oteltest.ByName(exporter.Flush())["eval"], 2)
}

func TestEvaluator_RunByProjectID(t *testing.T) {
	target, fake := newFakeTarget(t)
	result, err := NewEvaluator[testInput, testOutput](target, nil).Run(context.Background(), Opts[testInput, testOutput]{
		Experiment: "by-id",
		ProjectID:  "proj-existing",
		Cases:      NewCases([]Case[testInput, testOutput]{{Input: testInput{Value: "x"}}}),
		Task:       echoTask(),
	})
	require.NoError(t, err)
	assert.Equal(t, "existing", result.ProjectName())
	assert.Len(t, fake.RequestsTo("/v1/project/proj-existing"), 1)
}

func TestDatasetAPI_Pagination(t *testing.T) {
	target, fake := newFakeTarget(t)
	var events []map[string]any
	for i := 0; i < 250; i++ {
		events = append(events, map[string]any{"input": i, "expected": i * 2})
	}
	id := fake.AddDataset("demo", "numbers", events...)

	cases, err := NewEvaluator[int, int](target, nil).Datasets().Get(context.Background(), id)
	require.NoError(t, err)

	var got []int
	for {
		c, err := cases.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, c.Input)
	}
	require.Len(t, got, 250)
	assert.Equal(t, 249, got[249])
	assert.Len(t, fake.RequestsTo("/v1/dataset/"+id+"/fetch"), 3)

	limited, err := NewEvaluator[int, int](target, nil).Datasets().Query(context.Background(), DatasetQueryOpts{ID: id, Limit: 5})
	require.NoError(t, err)
	n := 0
	for {
		if _, err := limited.Next(); err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		n++
	}
	assert.Equal(t, 5, n)
}

func TestDatasetAPI_Errors(t *testing.T) {
	target, _ := newFakeTarget(t)
	datasets := NewEvaluator[int, int](target, nil).Datasets()
	ctx := context.Background()

	_, err := datasets.Query(ctx, DatasetQueryOpts{ProjectName: "demo", Name: "missing"})
	assert.ErrorContains(t, err, "not found")
	_, err = datasets.Get(ctx, "")
	assert.Error(t, err)

	cases, err := datasets.Get(ctx, "ds-unknown")
	require.NoError(t, err)
	_, err = cases.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	_, err = cases.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseHostedScore(t *testing.T) {
	t.Parallel()

	scores, err := parseHostedScore(0.4)
	require.NoError(t, err)
	assert.Equal(t, S(0.4), scores)

	scores, err = parseHostedScore(map[string]any{"name": "n", "score": 1.0, "metadata": map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, Scores{{Name: "n", Score: 1, Metadata: map[string]any{"k": "v"}}}, scores)

	_, err = parseHostedScore(nil)
	assert.Error(t, err)
	_, err = parseHostedScore("high")
	assert.Error(t, err)
	_, err = parseHostedScore(map[string]any{"name": "n"})
	assert.Error(t, err)
}

func TestResultString(t *testing.T) {
	r := &Result{
		key:       key{name: "exp", projectName: "proj"},
		permalink: "https://x",
		scores:    map[string]ScoreSummary{"b": {Name: "b", Score: 0.5, Count: 2}, "a": {Name: "a", Score: 1, Count: 2}},
		cases:     2,
		err:       errors.New("one failed"),
	}
	s := r.String()
	assert.Contains(t, s, "=== Experiment: exp ===")
	assert.Contains(t, s, "Project: proj")
	assert.Contains(t, s, "a: 100.00% (2)\n  b: 50.00% (2)")
	assert.Contains(t, s, "one failed")
}

func TestLimit(t *testing.T) {
	cases := Limit(NewCases([]Case[int, int]{{Input: 1}, {Input: 2}, {Input: 3}}), 2)
	var got []int
	for {
		c, err := cases.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, c.Input)
	}
	assert.Equal(t, []int{1, 2}, got)

	all := NewCases([]Case[int, int]{{Input: 1}})
	assert.Same(t, all, Limit(all, 0))
}

func TestScoreMap(t *testing.T) {
	m := ScoreMap(Scores{{Name: "a", Score: 0.1}, {Name: "b", Score: 1}, {Name: "a", Score: 0.3}})
	assert.Equal(t, map[string]float64{"a": 0.3, "b": 1}, m)
}
