package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// Request is one call received by a FakeAPI.
type Request struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

// FakeAPI is an in-process stand-in for the Braintrust app and API. It serves
// login, projects, experiments, datasets, functions and the OTLP endpoint.
type FakeAPI struct {
	*httptest.Server

	mu       sync.Mutex
	tokens   map[string]string
	datasets map[string]fakeDataset
	funcs    map[string]fakeFunction
	requests []Request
	spans    int
}

type fakeDataset struct {
	id, project, name string
	events            []map[string]any
}

type fakeFunction struct {
	id, project, slug, name string
	invoke                  func(input map[string]any) any
}

// NewFakeAPI starts a fake that accepts the given bearer tokens. Each token
// maps to the org name returned by login.
func NewFakeAPI(t *testing.T, tokens map[string]string) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		tokens:   tokens,
		datasets: make(map[string]fakeDataset),
		funcs:    make(map[string]fakeFunction),
	}

	r := mux.NewRouter()
	r.Use(f.record)
	r.HandleFunc("/api/apikey/login", f.login).Methods(http.MethodPost)
	r.HandleFunc("/v1/project", f.registerProject).Methods(http.MethodPost)
	r.HandleFunc("/v1/project/{id}", f.getProject).Methods(http.MethodGet)
	r.HandleFunc("/v1/experiment", f.registerExperiment).Methods(http.MethodPost)
	r.HandleFunc("/v1/dataset", f.queryDatasets).Methods(http.MethodGet)
	r.HandleFunc("/v1/dataset/{id}/fetch", f.fetchDataset).Methods(http.MethodPost)
	r.HandleFunc("/v1/function", f.queryFunctions).Methods(http.MethodGet)
	r.HandleFunc("/v1/function/{id}/invoke", f.invokeFunction).Methods(http.MethodPost)
	r.HandleFunc("/otel/v1/traces", f.traces).Methods(http.MethodPost)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

// AddDataset registers a dataset and returns its id.
func (f *FakeAPI) AddDataset(project, name string, events ...map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "ds-" + strconv.Itoa(len(f.datasets)+1)
	f.datasets[id] = fakeDataset{id: id, project: project, name: name, events: events}
	return id
}

// AddFunction registers a hosted function whose invocation returns invoke(input).
func (f *FakeAPI) AddFunction(project, slug, name string, invoke func(input map[string]any) any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "fn-" + slug
	f.funcs[id] = fakeFunction{id: id, project: project, slug: slug, name: name, invoke: invoke}
	return id
}

// Requests returns the calls received so far.
func (f *FakeAPI) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// RequestsTo returns the calls whose path starts with prefix.
func (f *FakeAPI) RequestsTo(prefix string) []Request {
	var out []Request
	for _, r := range f.Requests() {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// TraceBatches returns how many OTLP export calls were received.
func (f *FakeAPI) TraceBatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spans
}

func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		}
		if r.Header.Get("Content-Type") == "application/json" {
			_ = json.NewDecoder(r.Body).Decode(&req.Body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		if _, ok := f.tokens[req.Auth]; !ok {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withBody(r.Context(), req.Body)))
	})
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	writeJSON(w, map[string]any{
		"org_info": []map[string]any{{
			"id":        "org-" + f.tokens[token],
			"name":      f.tokens[token],
			"api_url":   f.URL,
			"proxy_url": f.URL,
		}},
	})
}

func (f *FakeAPI) registerProject(w http.ResponseWriter, r *http.Request) {
	name, _ := bodyOf(r)["name"].(string)
	writeJSON(w, map[string]any{"id": "proj-" + name, "name": name})
}

func (f *FakeAPI) getProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSON(w, map[string]any{"id": id, "name": strings.TrimPrefix(id, "proj-")})
}

func (f *FakeAPI) registerExperiment(w http.ResponseWriter, r *http.Request) {
	body := bodyOf(r)
	name, _ := body["name"].(string)
	writeJSON(w, map[string]any{
		"id":         "exp-" + name,
		"name":       name,
		"project_id": body["project_id"],
	})
}

func (f *FakeAPI) queryDatasets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	var objects []map[string]any
	for _, ds := range f.datasets {
		if q.Get("project_name") != "" && q.Get("project_name") != ds.project {
			continue
		}
		if q.Get("dataset_name") != "" && q.Get("dataset_name") != ds.name {
			continue
		}
		objects = append(objects, map[string]any{"id": ds.id, "name": ds.name, "project_id": "proj-" + ds.project})
	}
	f.mu.Unlock()
	writeJSON(w, map[string]any{"objects": objects})
}

func (f *FakeAPI) fetchDataset(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ds, ok := f.datasets[mux.Vars(r)["id"]]
	f.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	body := bodyOf(r)
	limit := len(ds.events)
	if l, ok := body["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}
	start := 0
	if c, ok := body["cursor"].(string); ok {
		start, _ = strconv.Atoi(c)
	}
	end := min(start+limit, len(ds.events))
	cursor := ""
	if end < len(ds.events) {
		cursor = strconv.Itoa(end)
	}
	events := ds.events[min(start, end):end]
	writeJSON(w, map[string]any{"events": events, "cursor": cursor})
}

func (f *FakeAPI) queryFunctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	var objects []map[string]any
	for _, fn := range f.funcs {
		if q.Get("slug") != "" && q.Get("slug") != fn.slug {
			continue
		}
		if q.Get("project_name") != "" && q.Get("project_name") != fn.project {
			continue
		}
		objects = append(objects, map[string]any{"id": fn.id, "name": fn.name, "slug": fn.slug, "function_type": "scorer"})
	}
	f.mu.Unlock()
	writeJSON(w, map[string]any{"objects": objects})
}

func (f *FakeAPI) invokeFunction(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	fn, ok := f.funcs[mux.Vars(r)["id"]]
	f.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	input, _ := bodyOf(r)["input"].(map[string]any)
	writeJSON(w, fn.invoke(input))
}

func (f *FakeAPI) traces(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.spans++
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type bodyKey struct{}

func withBody(ctx context.Context, body map[string]any) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

func bodyOf(r *http.Request) map[string]any {
	body, _ := r.Context().Value(bodyKey{}).(map[string]any)
	return body
}
