package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/braintrustdata/braintrust-eval-server/api"
)

// fetchBatchSize is how many events one fetch call asks for.
const fetchBatchSize = 100

// DatasetAPI loads Braintrust datasets as Cases.
type DatasetAPI[I, R any] struct {
	apiClient *api.API
}

// DatasetQueryOpts contains options for querying datasets.
type DatasetQueryOpts struct {
	// ProjectName scopes a lookup by Name.
	ProjectName string

	// Name is the dataset name (requires project context)
	Name string

	// ID is the dataset ID (direct lookup)
	ID string

	// Version specifies a specific dataset version
	Version string

	// Limit specifies the maximum number of records to return (0 = unlimited)
	Limit int
}

// Get loads a dataset by ID. Records are fetched lazily with ctx.
func (d *DatasetAPI[I, R]) Get(ctx context.Context, id string) (Cases[I, R], error) {
	return d.Query(ctx, DatasetQueryOpts{ID: id})
}

// Query resolves a dataset by id, or by project and name, and returns an
// iterator over its records.
func (d *DatasetAPI[I, R]) Query(ctx context.Context, opts DatasetQueryOpts) (Cases[I, R], error) {
	if d.apiClient == nil {
		return nil, fmt.Errorf("datasets: no API client")
	}
	if opts.ID != "" {
		return d.iterator(ctx, opts.ID, opts.Limit), nil
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("dataset ID or name is required")
	}

	response, err := d.apiClient.Datasets().Query(ctx, api.DatasetQueryOpts{
		ProjectName: opts.ProjectName,
		Name:        opts.Name,
		Version:     opts.Version,
		Limit:       1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	if len(response.Objects) == 0 {
		return nil, fmt.Errorf("dataset %q not found in project %q", opts.Name, opts.ProjectName)
	}
	return d.iterator(ctx, response.Objects[0].ID, opts.Limit), nil
}

func (d *DatasetAPI[I, R]) iterator(ctx context.Context, id string, limit int) *datasetIterator[I, R] {
	return &datasetIterator[I, R]{dataset: newDataset(ctx, id, limit, d.apiClient.Datasets())}
}

// dataset pages through a dataset's events.
type dataset struct {
	ctx            context.Context
	datasetID      string
	events         []json.RawMessage
	index          int
	cursor         string
	exhausted      bool
	maxRecords     int
	recordCount    int
	datasetsClient *api.DatasetsClient
}

func newDataset(ctx context.Context, datasetID string, maxRecords int, datasetsClient *api.DatasetsClient) *dataset {
	return &dataset{
		ctx:            ctx,
		datasetID:      datasetID,
		maxRecords:     maxRecords,
		datasetsClient: datasetsClient,
	}
}

// nextAs decodes the next event into target. A failed fetch is reported once
// and ends the iteration.
func (d *dataset) nextAs(target any) error {
	if d.maxRecords > 0 && d.recordCount >= d.maxRecords {
		return io.EOF
	}

	if d.index >= len(d.events) && !d.exhausted {
		if err := d.fetchNextBatch(); err != nil {
			d.exhausted = true
			d.events, d.index = nil, 0
			return err
		}
	}
	if d.index >= len(d.events) {
		return io.EOF
	}

	raw := d.events[d.index]
	d.index++
	d.recordCount++
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return nil
}

func (d *dataset) fetchNextBatch() error {
	batchSize := fetchBatchSize
	if d.maxRecords > 0 {
		batchSize = min(batchSize, d.maxRecords-d.recordCount)
	}

	result, err := d.datasetsClient.Fetch(d.ctx, d.datasetID, d.cursor, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch dataset events: %w", err)
	}

	d.events = result.Events
	d.index = 0
	d.cursor = result.Cursor
	if result.Cursor == "" || len(result.Events) == 0 {
		d.exhausted = true
	}
	return nil
}

// datasetIterator implements Cases[I, R] for dataset events
type datasetIterator[I, R any] struct {
	dataset *dataset
}

// DatasetID returns the id of the dataset being iterated.
func (di *datasetIterator[I, R]) DatasetID() string {
	return di.dataset.datasetID
}

// Next returns the next case from the dataset
func (di *datasetIterator[I, R]) Next() (Case[I, R], error) {
	var event struct {
		Input    I        `json:"input"`
		Expected R        `json:"expected"`
		Tags     []string `json:"tags"`
		Metadata Metadata `json:"metadata"`
	}

	if err := di.dataset.nextAs(&event); err != nil {
		var zero Case[I, R]
		return zero, err
	}

	return Case[I, R]{
		Input:    event.Input,
		Expected: event.Expected,
		Tags:     event.Tags,
		Metadata: event.Metadata,
	}, nil
}
