package eval

import (
	"context"
	"fmt"

	"github.com/braintrustdata/braintrust-eval-server/api"
)

// registerExperiment resolves the project and creates or reuses the
// experiment for a run.
func registerExperiment[I, R any](ctx context.Context, client *api.API, opts Opts[I, R]) (*api.Project, *api.Experiment, error) {
	if opts.Experiment == "" {
		return nil, nil, fmt.Errorf("experiment name is required")
	}

	var (
		project *api.Project
		err     error
	)
	switch {
	case opts.ProjectID != "":
		project, err = client.Projects().Get(ctx, opts.ProjectID)
	case opts.ProjectName != "":
		project, err = client.Projects().Register(ctx, opts.ProjectName)
	default:
		return nil, nil, fmt.Errorf("project name or ID is required")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register project: %w", err)
	}

	experiment, err := client.Experiments().Register(ctx, opts.Experiment, project.ID, api.RegisterExperimentOpts{
		Tags:      opts.Tags,
		Metadata:  opts.Metadata,
		DatasetID: opts.DatasetID,
		Update:    opts.Update,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register experiment: %w", err)
	}
	return project, experiment, nil
}
