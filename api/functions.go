package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Function represents a Braintrust function (prompt, tool, or scorer).
type Function struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	FunctionType string `json:"function_type"`
	Description  string `json:"description,omitempty"`
}

// FunctionQueryOpts contains options for querying functions.
type FunctionQueryOpts struct {
	ProjectName  string
	ProjectID    string
	Slug         string
	FunctionName string
	Version      string
	Limit        int
}

// FunctionInvokeRequest represents the request payload for invoking a function.
type FunctionInvokeRequest struct {
	Input any `json:"input"`
}

// FunctionsClient handles function-related API operations.
type FunctionsClient struct {
	client *API
}

// Query searches for functions matching the given options.
func (f *FunctionsClient) Query(ctx context.Context, opts FunctionQueryOpts) ([]Function, error) {
	params := map[string]string{}
	if opts.ProjectName != "" {
		params["project_name"] = opts.ProjectName
	}
	if opts.ProjectID != "" {
		params["project_id"] = opts.ProjectID
	}
	if opts.Slug != "" {
		params["slug"] = opts.Slug
	}
	if opts.FunctionName != "" {
		params["function_name"] = opts.FunctionName
	}
	if opts.Version != "" {
		params["version"] = opts.Version
	}
	if opts.Limit > 0 {
		params["limit"] = strconv.Itoa(opts.Limit)
	}

	var result struct {
		Objects []Function `json:"objects"`
	}
	if err := f.client.get(ctx, "/v1/function", params, &result); err != nil {
		return nil, fmt.Errorf("querying functions: %w", err)
	}
	return result.Objects, nil
}

// Invoke calls a function with the given input and returns its output. An
// object response yields its "output" field when present; any other JSON
// value is returned as decoded.
func (f *FunctionsClient) Invoke(ctx context.Context, functionID string, input any) (any, error) {
	if functionID == "" {
		return nil, fmt.Errorf("function ID is required")
	}

	resp, err := f.client.postRaw(ctx, "/v1/function/"+functionID+"/invoke", FunctionInvokeRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("invoking function %q: %w", functionID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var output any
	if err := json.Unmarshal(body, &output); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if obj, ok := output.(map[string]any); ok {
		if v, ok := obj["output"]; ok {
			return v, nil
		}
	}
	return output, nil
}
