package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/evaluator"
	"github.com/braintrustdata/braintrust-eval-server/internal/auth"
	intlogger "github.com/braintrustdata/braintrust-eval-server/internal/logger"
	"github.com/braintrustdata/braintrust-eval-server/internal/oteltest"
	"github.com/braintrustdata/braintrust-eval-server/internal/tests"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

func echoTask(_ context.Context, input any, hooks *eval.TaskHooks) (eval.TaskOutput[any], error) {
	text, _ := input.(string)
	if v := hooks.Prompt(parameters.PromptKey); v != nil {
		instruction, _ := parameters.Resolve(v, "", "")
		text = instruction + text
	}
	return eval.TaskOutput[any]{Value: map[string]any{"output": text}}, nil
}

func matchScorer() eval.Scorer[any, any] {
	return eval.NewScorer("Match", func(_ context.Context, r eval.TaskResult[any, any]) (eval.Scores, error) {
		out, _ := r.Output.(map[string]any)
		if out["output"] == r.Expected {
			return eval.S(1), nil
		}
		return eval.S(0), nil
	})
}

func newTestEvaluator() *evaluator.Evaluator {
	return &evaluator.Evaluator{
		Name:          "echo",
		ProjectName:   "demo",
		Task:          echoTask,
		Scorers:       []eval.Scorer[any, any]{matchScorer()},
		HostedScorers: []string{"brevity"},
		Parameters:    map[string]parameters.Descriptor{"prompt": parameters.SystemPrompt()},
	}
}

type fixture struct {
	server *Server
	fake   *tests.FakeAPI
}

func newFixture(t *testing.T, session *auth.Session, cfg Config) *fixture {
	t.Helper()
	fake := tests.NewFakeAPI(t, map[string]string{"sk-caller": "acme", "sk-server": "acme"})
	fake.AddFunction("demo", "brevity", "Brevity", func(map[string]any) any { return 1.0 })
	tp, _ := oteltest.SetupProvider(t)

	cfg.AppURL = fake.URL
	cfg.TracerProvider = tp
	srv, err := New([]*evaluator.Evaluator{newTestEvaluator()}, session, cfg)
	require.NoError(t, err)
	return &fixture{server: srv, fake: fake}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

var callerAuth = map[string]string{"x-bt-auth-token": "sk-caller"}

func TestRoot(t *testing.T) {
	f := newFixture(t, nil, Config{})
	rec := f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, world!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil, Config{})

	headers := map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "x-bt-auth-token, content-type",
	}
	rec := f.do(t, http.MethodOptions, "/eval", "", headers)
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	headers["Origin"] = "https://evil.example.com"
	rec = f.do(t, http.MethodOptions, "/eval", "", headers)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIsAllowedOrigin(t *testing.T) {
	cases := map[string]bool{
		"https://www.braintrust.dev":           true,
		"https://www.braintrustdata.com":       true,
		"https://pr-12.preview.braintrust.dev": true,
		"http://localhost:8080":                true,
		"http://127.0.0.1:3000":                true,
		"http://www.braintrust.dev":            false,
		"https://braintrust.dev.evil.com":      false,
		"":                                     false,
	}
	for origin, want := range cases {
		assert.Equal(t, want, isAllowedOrigin(origin), origin)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, nil, Config{})

	rec := f.do(t, http.MethodGet, "/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/list", "", map[string]string{"x-bt-auth-token": "sk-wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/list", "", map[string]string{"x-bt-auth-token": "sk-caller", "x-bt-org-name": "globex"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/list", "", map[string]string{"Authorization": "Bearer sk-caller"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// The token is verified once and then cached.
	rec = f.do(t, http.MethodGet, "/list", "", callerAuth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.fake.RequestsTo("/api/apikey/login"), 3)
}

func TestAuthOrgRestriction(t *testing.T) {
	f := newFixture(t, nil, Config{OrgName: "acme"})

	rec := f.do(t, http.MethodGet, "/list", "", map[string]string{"x-bt-auth-token": "sk-caller", "x-bt-org-name": "globex"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.fake.RequestsTo("/api/apikey/login"))

	rec = f.do(t, http.MethodGet, "/list", "", callerAuth)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestList(t *testing.T) {
	f := newFixture(t, nil, Config{})
	rec := f.do(t, http.MethodGet, "/list", "", callerAuth)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]struct {
		Parameters map[string]parameters.Descriptor `json:"parameters"`
		Scores     []scorerInfo                     `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "echo")
	assert.Equal(t, []scorerInfo{{Name: "Match"}, {Name: "brevity"}}, body["echo"].Scores)
	assert.Equal(t, parameters.TypePrompt, body["echo"].Parameters["prompt"].Type)
}

func TestEvalJSON(t *testing.T) {
	f := newFixture(t, nil, Config{})
	body := `{
		"name": "echo",
		"experiment_name": "from-playground",
		"parameters": {"prompt": {"prompt": {"messages": [{"role": "system", "content": "> "}]}}},
		"data": {"data": [{"input": "hi", "expected": "> hi"}, {"input": "yo", "expected": "nope"}]}
	}`
	rec := f.do(t, http.MethodPost, "/eval", body, callerAuth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp evalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "from-playground", resp.ExperimentName)
	assert.Equal(t, "demo", resp.ProjectName)
	assert.Equal(t, "proj-demo", resp.ProjectID)
	assert.Equal(t, "exp-from-playground", resp.ExperimentID)
	assert.Equal(t, scoreSummary{Name: "Match", Score: 0.5}, resp.Scores["Match"])
	assert.Equal(t, 1.0, resp.Scores["Brevity"].Score)
	assert.Contains(t, resp.ExperimentURL, "from-playground")

	reqs := f.fake.RequestsTo("/v1/experiment")
	require.Len(t, reqs, 1)
	assert.Equal(t, "sk-caller", reqs[0].Auth)
}

func TestEvalStream(t *testing.T) {
	f := newFixture(t, nil, Config{})
	body := `{"name": "echo", "stream": true, "data": {"data": [{"input": "a", "expected": "a"}, {"input": "b", "expected": "b"}]}}`
	rec := f.do(t, http.MethodPost, "/eval", body, callerAuth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "progress", events[0].name)
	assert.Equal(t, "progress", events[1].name)
	assert.Equal(t, "summary", events[2].name)
	assert.Equal(t, "done", events[3].name)

	var progress progressEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &progress))
	assert.Equal(t, "echo", progress.Name)
	assert.NotEmpty(t, progress.ID)
	assert.Equal(t, 1.0, progress.Scores["Match"])

	var summary evalResponse
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &summary))
	assert.Equal(t, 1.0, summary.Scores["Match"].Score)
}

func TestEvalStreamReportsFailure(t *testing.T) {
	f := newFixture(t, nil, Config{})
	body := `{"name": "echo", "stream": true, "data": {"dataset_name": "missing"}}`
	rec := f.do(t, http.MethodPost, "/eval", body, callerAuth)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].name)
	var e errorBody
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &e))
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Contains(t, e.Error, "missing")
}

func TestEvalRunFailure(t *testing.T) {
	fake := tests.NewFakeAPI(t, map[string]string{"sk-caller": "acme"})
	tp, _ := oteltest.SetupProvider(t)

	ev := newTestEvaluator()
	ev.HostedScorers = []string{"absent"}
	srv, err := New([]*evaluator.Evaluator{ev}, nil, Config{AppURL: fake.URL, TracerProvider: tp})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/eval", strings.NewReader(`{"name": "echo", "data": {"data": ["x"]}}`))
	req.Header.Set("x-bt-auth-token", "sk-caller")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "absent")
}

func TestEvalRequestErrors(t *testing.T) {
	f := newFixture(t, nil, Config{})
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", `{"name":`, http.StatusBadRequest},
		{"missing name", `{}`, http.StatusBadRequest},
		{"unknown evaluator", `{"name": "nope", "data": {"data": ["x"]}}`, http.StatusNotFound},
		{"unknown parameter", `{"name": "echo", "parameters": {"temperature": {}}, "data": {"data": ["x"]}}`, http.StatusBadRequest},
		{"bad parameter", `{"name": "echo", "parameters": {"prompt": 3}, "data": {"data": ["x"]}}`, http.StatusBadRequest},
		{"no data", `{"name": "echo"}`, http.StatusBadRequest},
		{"unknown dataset", `{"name": "echo", "data": {"project_name": "demo", "dataset_name": "nope"}}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/eval", tc.body, callerAuth)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			var e errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestEvalBusy(t *testing.T) {
	f := newFixture(t, nil, Config{MaxConcurrency: 1, RequestTimeout: 200 * time.Millisecond})
	// Warm the token cache so the timeout only covers waiting for a slot.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/list", "", callerAuth).Code)

	require.NoError(t, f.server.slots.Acquire(context.Background(), 1))
	defer f.server.slots.Release(1)

	rec := f.do(t, http.MethodPost, "/eval", `{"name": "echo", "data": {"data": ["x"]}}`, callerAuth)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvalWithServerSession(t *testing.T) {
	fake := tests.NewFakeAPI(t, map[string]string{"sk-server": "acme"})
	session := auth.NewTestSession(&auth.Info{
		APIKey:   "sk-server",
		APIURL:   fake.URL,
		AppURL:   fake.URL,
		OrgName:  "acme",
		LoggedIn: true,
	}, intlogger.NewFailTestLogger(t))
	tp, _ := oteltest.SetupProvider(t)

	ev := newTestEvaluator()
	ev.HostedScorers = nil
	srv, err := New([]*evaluator.Evaluator{ev}, session, Config{AppURL: fake.URL, TracerProvider: tp})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/eval", strings.NewReader(`{"name": "echo", "data": {"data": ["x"]}}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reqs := fake.RequestsTo("/v1/experiment")
	require.Len(t, reqs, 1)
	assert.Equal(t, "sk-server", reqs[0].Auth)
	assert.Empty(t, fake.RequestsTo("/api/apikey/login"))
}

func TestNewRejectsBadEvaluators(t *testing.T) {
	_, err := New([]*evaluator.Evaluator{newTestEvaluator(), newTestEvaluator()}, nil, Config{})
	require.Error(t, err)

	bad := newTestEvaluator()
	bad.Task = nil
	_, err = New([]*evaluator.Evaluator{bad}, nil, Config{})
	require.Error(t, err)

	srv, err := New(nil, nil, Config{})
	require.NoError(t, err)
	assert.Empty(t, srv.Evaluators())
}

type sseEvent struct {
	name, data string
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = v
			} else if v, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data = v
			}
		}
		out = append(out, ev)
	}
	return out
}
