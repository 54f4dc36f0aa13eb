package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braintrustdata/braintrust-eval-server/internal/https"
	"github.com/braintrustdata/braintrust-eval-server/internal/tests"
)

const testKey = "sk-server"

func newTestAPI(t *testing.T) (*API, *tests.FakeAPI) {
	t.Helper()
	fake := tests.NewFakeAPI(t, map[string]string{testKey: "acme"})
	client, err := NewClient(testKey, WithAPIURL(fake.URL))
	require.NoError(t, err)
	return client, fake
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	_, err := NewClient("")
	require.Error(t, err)

	client, err := NewClient("key")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, client.URL())

	client, err = NewClient("key", WithAPIURL(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, client.URL())
}

func TestProjectsAndExperiments(t *testing.T) {
	t.Parallel()
	client, fake := newTestAPI(t)
	ctx := context.Background()

	project, err := client.Projects().Register(ctx, "my-project")
	require.NoError(t, err)
	assert.Equal(t, "proj-my-project", project.ID)

	exp, err := client.Experiments().Register(ctx, "run-1", project.ID, RegisterExperimentOpts{
		Tags:     []string{"nightly"},
		Metadata: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, "exp-run-1", exp.ID)
	assert.Equal(t, project.ID, exp.ProjectID)

	reqs := fake.RequestsTo("/v1/experiment")
	require.Len(t, reqs, 1)
	assert.Equal(t, testKey, reqs[0].Auth)
	assert.Equal(t, true, reqs[0].Body["ensure_new"])
	assert.Equal(t, []any{"nightly"}, reqs[0].Body["tags"])

	_, err = client.Experiments().Register(ctx, "", project.ID, RegisterExperimentOpts{})
	require.Error(t, err)
	_, err = client.Projects().Register(ctx, "")
	require.Error(t, err)
}

func TestDatasetsQueryAndFetch(t *testing.T) {
	t.Parallel()
	client, fake := newTestAPI(t)
	ctx := context.Background()

	id := fake.AddDataset("proj", "greetings",
		map[string]any{"input": "a"},
		map[string]any{"input": "b"},
		map[string]any{"input": "c"},
	)
	fake.AddDataset("other", "greetings")

	found, err := client.Datasets().Query(ctx, DatasetQueryOpts{ProjectName: "proj", Name: "greetings", Limit: 1})
	require.NoError(t, err)
	require.Len(t, found.Objects, 1)
	assert.Equal(t, id, found.Objects[0].ID)

	page, err := client.Datasets().Fetch(ctx, id, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.NotEmpty(t, page.Cursor)

	var first map[string]any
	require.NoError(t, json.Unmarshal(page.Events[0], &first))
	assert.Equal(t, "a", first["input"])

	page, err = client.Datasets().Fetch(ctx, id, page.Cursor, 2)
	require.NoError(t, err)
	assert.Len(t, page.Events, 1)
	assert.Empty(t, page.Cursor)
}

func TestFunctionsQueryAndInvoke(t *testing.T) {
	t.Parallel()
	client, fake := newTestAPI(t)
	ctx := context.Background()

	fake.AddFunction("proj", "wrapped", "Wrapped", func(input map[string]any) any {
		return map[string]any{"output": map[string]any{"score": 0.5, "echo": input["output"]}}
	})
	fake.AddFunction("proj", "bare", "Bare", func(map[string]any) any { return 0.25 })

	fns, err := client.Functions().Query(ctx, FunctionQueryOpts{ProjectName: "proj", Slug: "wrapped", Limit: 1})
	require.NoError(t, err)
	require.Len(t, fns, 1)
	assert.Equal(t, "Wrapped", fns[0].Name)

	out, err := client.Functions().Invoke(ctx, fns[0].ID, map[string]any{"output": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"score": 0.5, "echo": "hi"}, out)

	out, err = client.Functions().Invoke(ctx, "fn-bare", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0.25, out)

	_, err = client.Functions().Invoke(ctx, "", nil)
	require.Error(t, err)
}

func TestUnauthorizedKey(t *testing.T) {
	t.Parallel()
	fake := tests.NewFakeAPI(t, map[string]string{testKey: "acme"})
	client, err := NewClient("wrong", WithAPIURL(fake.URL))
	require.NoError(t, err)

	_, err = client.Projects().Register(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, https.IsStatus(err, 401))
}
