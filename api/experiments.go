package api

import (
	"context"
	"fmt"
)

// Experiment represents an experiment from the API
type Experiment struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	ProjectID string         `json:"project_id"`
	DatasetID string         `json:"dataset_id,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExperimentRequest represents the request payload for creating an experiment
type ExperimentRequest struct {
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	EnsureNew bool           `json:"ensure_new"`
	DatasetID string         `json:"dataset_id,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RegisterExperimentOpts contains optional parameters for registering an experiment
type RegisterExperimentOpts struct {
	Tags      []string
	Metadata  map[string]any
	DatasetID string
	// Update reuses an existing experiment with the same name instead of
	// creating a new one.
	Update bool
}

// ExperimentsClient handles experiment-related API operations
type ExperimentsClient struct {
	client *API
}

// Register creates or gets an experiment by name within a project.
func (e *ExperimentsClient) Register(ctx context.Context, name, projectID string, opts RegisterExperimentOpts) (*Experiment, error) {
	if name == "" {
		return nil, fmt.Errorf("experiment name is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	req := ExperimentRequest{
		ProjectID: projectID,
		Name:      name,
		EnsureNew: !opts.Update,
		DatasetID: opts.DatasetID,
		Tags:      opts.Tags,
		Metadata:  opts.Metadata,
	}

	var result Experiment
	if err := e.client.post(ctx, "/v1/experiment", req, &result); err != nil {
		return nil, fmt.Errorf("registering experiment %q: %w", name, err)
	}
	return &result, nil
}
