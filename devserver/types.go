package devserver

import (
	"encoding/json"

	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

// evalRequest represents the request body for POST /eval
type evalRequest struct {
	Name           string                     `json:"name"`
	Parameters     map[string]json.RawMessage `json:"parameters"`
	Data           dataSpec                   `json:"data"`
	ExperimentName string                     `json:"experiment_name"`
	ProjectID      string                     `json:"project_id"`
	Stream         bool                       `json:"stream"`
}

// dataSpec specifies where to get evaluation data
type dataSpec struct {
	// Option 1: By project/dataset name
	ProjectName string `json:"project_name,omitempty"`
	DatasetName string `json:"dataset_name,omitempty"`

	// Option 2: By dataset ID
	DatasetID string `json:"dataset_id,omitempty"`

	// Option 3: Inline data
	Data []any `json:"data,omitempty"`
}

// evalResponse represents the response from POST /eval (non-streaming)
type evalResponse struct {
	ExperimentName string                  `json:"experimentName"`
	ProjectName    string                  `json:"projectName"`
	ProjectID      string                  `json:"projectId"`
	ExperimentID   string                  `json:"experimentId"`
	ExperimentURL  string                  `json:"experimentUrl"`
	ProjectURL     string                  `json:"projectUrl"`
	Scores         map[string]scoreSummary `json:"scores"`
}

type scoreSummary struct {
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	Improvements int     `json:"improvements"`
	Regressions  int     `json:"regressions"`
}

// evaluatorInfo is one entry of GET /list.
type evaluatorInfo struct {
	Parameters map[string]parameters.Descriptor `json:"parameters"`
	Scores     []scorerInfo                     `json:"scores"`
}

type scorerInfo struct {
	Name string `json:"name"`
}

// progressEvent reports one finished case on the event stream.
type progressEvent struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Input    any                `json:"input"`
	Expected any                `json:"expected,omitempty"`
	Output   any                `json:"output"`
	Scores   map[string]float64 `json:"scores,omitempty"`
	Error    string             `json:"error,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	// Status is set on stream error events, where the HTTP status is already 200.
	Status int `json:"status,omitempty"`
}
