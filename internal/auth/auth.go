// Package auth resolves Braintrust API keys into organization and endpoint
// information, both for the server's own key and for playground callers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/braintrustdata/braintrust-eval-server/logger"
)

const (
	// TestAPIKey is a special API key used for testing
	TestAPIKey = "___TEST_API_KEY___"
	// DefaultAppURL is the default Braintrust app URL
	DefaultAppURL = "https://www.braintrust.dev"
)

var (
	// ErrUnauthorized is returned when the app rejects the API key.
	ErrUnauthorized = errors.New("invalid API key")
	// ErrOrgNotFound is returned when the key has no access to the requested organization.
	ErrOrgNotFound = errors.New("organization not found")

	errInvalidOptions = errors.New("invalid login options")
)

// Options contains options for logging in.
type Options struct {
	// AppURL is the URL of the Braintrust app
	AppURL string
	// AppPublicURL is the public URL of the Braintrust app
	AppPublicURL string
	// APIURL is the URL of the Braintrust API
	APIURL string
	// APIKey is the API key to use
	APIKey string
	// OrgName is the name of a specific organization to connect to (optional)
	OrgName string
	// Logger is the logger to use (optional, defaults to noop logger)
	Logger logger.Logger
}

// Info holds authentication information
type Info struct {
	LoginToken   string
	OrgID        string
	OrgName      string
	APIKey       string
	APIURL       string
	ProxyURL     string
	AppURL       string
	AppPublicURL string
	LoggedIn     bool
}

// OrgInfo represents organization information from the login response
type OrgInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	APIURL   string `json:"api_url"`
	ProxyURL string `json:"proxy_url"`
}

type loginResponse struct {
	OrgInfo []OrgInfo `json:"org_info"`
}

// Login performs a single login attempt.
func Login(ctx context.Context, opts Options) (*Info, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", errInvalidOptions)
	}
	if opts.AppURL == "" {
		return nil, fmt.Errorf("%w: app URL is required", errInvalidOptions)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	appPublicURL := opts.AppPublicURL
	if appPublicURL == "" {
		appPublicURL = opts.AppURL
	}

	log.Debug("login: attempting", "api_key", maskAPIKey(opts.APIKey), "org", opts.OrgName, "app_url", opts.AppURL)

	result := &Info{
		AppURL:       opts.AppURL,
		AppPublicURL: appPublicURL,
		LoginToken:   opts.APIKey,
		APIKey:       opts.APIKey,
	}

	var orgs []OrgInfo
	if opts.APIKey == TestAPIKey {
		orgs = []OrgInfo{{
			ID:       "test-org-id",
			Name:     orDefault(opts.OrgName, "test-org-name"),
			APIURL:   "https://api.braintrust.ai",
			ProxyURL: "https://proxy.braintrust.ai",
		}}
	} else {
		resp, err := postLogin(ctx, opts.AppURL, opts.APIKey)
		if err != nil {
			return nil, err
		}
		orgs = resp.OrgInfo
	}

	if err := selectOrg(result, orgs, opts.OrgName); err != nil {
		return nil, err
	}
	result.LoggedIn = true
	log.Debug("login: succeeded", "org_name", result.OrgName, "org_id", result.OrgID)
	return result, nil
}

// statusError carries the HTTP status of a failed login so retries can tell
// server trouble from a bad key.
type statusError struct {
	statusCode int
	err        error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func postLogin(ctx context.Context, appURL, apiKey string) (*loginResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, appURL+"/api/apikey/login", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating login request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &statusError{
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("%w %s: [%d]", ErrUnauthorized, maskAPIKey(apiKey), resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &statusError{
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("login failed for %s: [%d]", maskAPIKey(apiKey), resp.StatusCode),
		}
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("error decoding login response: %w", err)
	}
	return &out, nil
}

func selectOrg(result *Info, orgInfo []OrgInfo, orgName string) error {
	if len(orgInfo) == 0 {
		return fmt.Errorf("%w: this user is not part of any organizations", ErrOrgNotFound)
	}
	for _, org := range orgInfo {
		if orgName == "" || org.Name == orgName {
			result.OrgID = org.ID
			result.OrgName = org.Name
			result.APIURL = org.APIURL
			result.ProxyURL = org.ProxyURL
			return nil
		}
	}
	names := make([]string, len(orgInfo))
	for i, org := range orgInfo {
		names[i] = org.Name
	}
	return fmt.Errorf("%w: %q, must be one of: %s", ErrOrgNotFound, orgName, strings.Join(names, ", "))
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 6 {
		return "<redacted>"
	}
	return apiKey[:3] + "..." + apiKey[len(apiKey)-3:]
}

// isRetryableError is true for network errors and 5xx responses.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errInvalidOptions) || errors.Is(err, ErrOrgNotFound) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.statusCode >= 500
	}
	return true
}

// newLoginBackOff starts at 10ms and doubles each attempt, capped at 10s, and
// never gives up on its own.
func newLoginBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// loginUntilSuccess retries Login on retryable errors until ctx is done.
func loginUntilSuccess(ctx context.Context, opts Options) (*Info, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	attempt := 0
	op := func() (*Info, error) {
		attempt++
		info, err := Login(ctx, opts)
		if err != nil && !isRetryableError(err) {
			log.Debug("login: non-retryable error", "error", err)
			return nil, backoff.Permanent(err)
		}
		return info, err
	}
	notify := func(err error, delay time.Duration) {
		log.Debug("login: retrying after failure", "attempt", attempt, "error", err, "delay", delay)
	}

	info, err := backoff.RetryNotifyWithData(op, newLoginBackOff(ctx), notify)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return info, err
}
