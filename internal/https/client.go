// Package https provides the HTTP client used to talk to the Braintrust API,
// with bearer auth, request id propagation, and debug logging in one place.
package https

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// RequestIDHeader carries the id of the inbound eval request on outbound calls.
const RequestIDHeader = "X-Request-Id"

const userAgent = "braintrust-eval-server"

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code: %d, body: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is forwarded on every call made with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Client is a unified HTTP client for API requests.
type Client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a new HTTP client with the given credentials.
// Both apiKey and apiURL are required and must be non-empty.
func NewClient(apiKey, apiURL string, log logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	if apiURL == "" {
		return nil, fmt.Errorf("apiURL is required")
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		apiKey: apiKey,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log,
	}, nil
}

// WithAPIKey returns a copy of c that authenticates with a different key.
// The devserver uses it to act on behalf of the playground caller.
func (c *Client) WithAPIKey(apiKey string) *Client {
	cp := *c
	cp.apiKey = apiKey
	return &cp
}

// GET makes a GET request with query parameters.
func (c *Client) GET(ctx context.Context, path string, params map[string]string) (*http.Response, error) {
	fullURL := c.apiURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Add(k, v)
		}
		fullURL += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req)
}

// POST makes a POST request with a JSON body.
func (c *Client) POST(ctx context.Context, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		c.logger.Debug("http request body", "body", string(data))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doRequest(req)
}

// DecodeJSON runs a request built by one of the verb methods and decodes the
// response into out, closing the body.
func DecodeJSON(resp *http.Response, err error, out any) error {
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	if id := RequestID(req.Context()); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	start := time.Now()
	c.logger.Debug("http request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("http request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"error", err,
			"duration", time.Since(start))
		return nil, fmt.Errorf("error making request: %w", err)
	}

	c.logger.Debug("http response",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return resp, nil
}
