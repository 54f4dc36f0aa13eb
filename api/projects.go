package api

import (
	"context"
	"fmt"
)

// Project represents a project from the API
type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OrgID string `json:"org_id,omitempty"`
}

// ProjectsClient handles project-related API operations
type ProjectsClient struct {
	client *API
}

// Register creates or gets a project by name.
// If a project with the given name already exists, it returns that project.
func (p *ProjectsClient) Register(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	var result Project
	if err := p.client.post(ctx, "/v1/project", map[string]any{"name": name}, &result); err != nil {
		return nil, fmt.Errorf("registering project %q: %w", name, err)
	}
	return &result, nil
}

// Get fetches a project by id.
func (p *ProjectsClient) Get(ctx context.Context, id string) (*Project, error) {
	if id == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var result Project
	if err := p.client.get(ctx, "/v1/project/"+id, nil, &result); err != nil {
		return nil, fmt.Errorf("getting project %q: %w", id, err)
	}
	return &result, nil
}
