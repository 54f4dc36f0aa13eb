package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Dataset represents a dataset from the API
type Dataset struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FetchResponse represents a paginated response from the fetch endpoint
type FetchResponse struct {
	Events []json.RawMessage `json:"events"`
	Cursor string            `json:"cursor"`
}

// QueryResponse represents the response from querying datasets
type QueryResponse struct {
	Objects []Dataset `json:"objects"`
}

// DatasetQueryOpts filters a dataset lookup.
type DatasetQueryOpts struct {
	ProjectName string
	ProjectID   string
	Name        string
	Version     string
	Limit       int
}

// DatasetsClient handles dataset-related API operations
type DatasetsClient struct {
	client *API
}

// Fetch retrieves a single page of events from a dataset with optional cursor pagination
func (d *DatasetsClient) Fetch(ctx context.Context, datasetID string, cursor string, limit int) (*FetchResponse, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset ID is required")
	}

	body := map[string]any{"limit": limit}
	if cursor != "" {
		body["cursor"] = cursor
	}

	var result FetchResponse
	if err := d.client.post(ctx, "/v1/dataset/"+datasetID+"/fetch", body, &result); err != nil {
		return nil, fmt.Errorf("fetching dataset %q: %w", datasetID, err)
	}
	return &result, nil
}

// Query searches for datasets by project, name or version. Results are most
// recent first.
func (d *DatasetsClient) Query(ctx context.Context, opts DatasetQueryOpts) (*QueryResponse, error) {
	params := map[string]string{}
	if opts.ProjectName != "" {
		params["project_name"] = opts.ProjectName
	}
	if opts.ProjectID != "" {
		params["project_id"] = opts.ProjectID
	}
	if opts.Name != "" {
		params["dataset_name"] = opts.Name
	}
	if opts.Version != "" {
		params["version"] = opts.Version
	}
	if opts.Limit > 0 {
		params["limit"] = strconv.Itoa(opts.Limit)
	}

	var result QueryResponse
	if err := d.client.get(ctx, "/v1/dataset", params, &result); err != nil {
		return nil, fmt.Errorf("querying datasets: %w", err)
	}
	return &result, nil
}
