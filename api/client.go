// Package api is a small client for the parts of the Braintrust REST API the
// eval server needs: projects, experiments, datasets and hosted functions.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/braintrustdata/braintrust-eval-server/internal/https"
	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// DefaultAPIURL is used when no URL is configured.
const DefaultAPIURL = "https://api.braintrust.dev"

// API is the main API client for Braintrust.
type API struct {
	client *https.Client
	apiURL string
}

// Option configures an API client.
type Option func(*options)

type options struct {
	apiURL string
	logger logger.Logger
}

// WithAPIURL sets the API URL for the client.
// If not provided, defaults to DefaultAPIURL.
func WithAPIURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.apiURL = url
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// NewClient creates a new Braintrust API client with the given API key and options.
func NewClient(apiKey string, opts ...Option) (*API, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}

	o := &options{apiURL: DefaultAPIURL}
	for _, opt := range opts {
		opt(o)
	}

	client, err := https.NewClient(apiKey, o.apiURL, o.logger)
	if err != nil {
		return nil, err
	}
	return &API{client: client, apiURL: o.apiURL}, nil
}

// URL returns the base URL requests are sent to.
func (a *API) URL() string {
	return a.apiURL
}

func (a *API) get(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := a.client.GET(ctx, path, params)
	return https.DecodeJSON(resp, err, out)
}

func (a *API) post(ctx context.Context, path string, body, out any) error {
	resp, err := a.client.POST(ctx, path, body)
	return https.DecodeJSON(resp, err, out)
}

func (a *API) postRaw(ctx context.Context, path string, body any) (*http.Response, error) {
	return a.client.POST(ctx, path, body)
}

// Projects returns a client for project operations
func (a *API) Projects() *ProjectsClient {
	return &ProjectsClient{client: a}
}

// Experiments returns a client for experiment operations
func (a *API) Experiments() *ExperimentsClient {
	return &ExperimentsClient{client: a}
}

// Datasets returns a client for dataset operations
func (a *API) Datasets() *DatasetsClient {
	return &DatasetsClient{client: a}
}

// Functions returns a client for function operations
func (a *API) Functions() *FunctionsClient {
	return &FunctionsClient{client: a}
}
