// Package config provides configuration management for the eval server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// Fallback values used when a request carries no parameter overrides.
const (
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultModel        = "gpt-4o-mini"
)

// Server defaults.
const (
	DefaultPort           = 8000
	DefaultEvalsDir       = "evals"
	DefaultEvalPattern    = "eval_*.yaml"
	DefaultMaxConcurrency = 10
	DefaultRequestTimeout = time.Hour
)

// Config holds immutable configuration for the eval server.
type Config struct {
	// Braintrust
	APIKey             string
	APIURL             string
	AppURL             string
	OrgName            string
	DefaultProjectName string
	BlockingLogin      bool

	// Inference providers
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// Server
	Host           string
	Port           int
	EvalsDir       string
	EvalPattern    string
	MaxConcurrency int
	RequestTimeout time.Duration
	// ServerOrgName restricts playground requests to one organization when set.
	ServerOrgName string

	// Tracing
	EnableConsoleTraces bool
	Exporter            trace.SpanExporter

	LogLevel string
	Logger   logger.Logger
}

// FromEnv loads configuration from environment variables with defaults.
//
// Supported environment variables:
//   - OPENAI_API_KEY: inference API key (required to serve)
//   - OPENAI_BASE_URL: alternate OpenAI-compatible endpoint
//   - ANTHROPIC_API_KEY, GEMINI_API_KEY: optional extra providers
//   - BRAINTRUST_API_KEY: API key for the tracking service
//   - BRAINTRUST_API_URL: API endpoint URL (default: "https://api.braintrust.dev")
//   - BRAINTRUST_APP_URL: Application URL (default: "https://www.braintrust.dev")
//   - BRAINTRUST_ORG_NAME: Organization name
//   - BRAINTRUST_DEFAULT_PROJECT: Default project name (default: "braintrust-eval-server")
//   - BRAINTRUST_BLOCKING_LOGIN: Wait for login before serving (default: false)
//   - BRAINTRUST_DEBUG_TRACES: also print spans to stdout (default: false)
//   - EVAL_SERVER_HOST, EVAL_SERVER_PORT: listen address (default: ":8000")
//   - EVAL_SERVER_EVALS_DIR: definitions directory (default: "evals")
//   - EVAL_SERVER_EVAL_PATTERN: definition file pattern (default: "eval_*.yaml")
//   - EVAL_SERVER_MAX_CONCURRENCY: concurrent requests (default: 10)
//   - EVAL_SERVER_REQUEST_TIMEOUT: per request ceiling (default: "1h")
//   - EVAL_SERVER_ORG_NAME: only accept playground requests from this org
//   - EVAL_SERVER_LOG_LEVEL: debug, info, warn or error (default: "info")
func FromEnv() *Config {
	return &Config{
		APIKey:              getEnvString("BRAINTRUST_API_KEY", ""),
		APIURL:              getEnvString("BRAINTRUST_API_URL", "https://api.braintrust.dev"),
		AppURL:              getEnvString("BRAINTRUST_APP_URL", "https://www.braintrust.dev"),
		OrgName:             getEnvString("BRAINTRUST_ORG_NAME", ""),
		DefaultProjectName:  getEnvString("BRAINTRUST_DEFAULT_PROJECT", "braintrust-eval-server"),
		BlockingLogin:       getEnvBool("BRAINTRUST_BLOCKING_LOGIN", false),
		EnableConsoleTraces: getEnvBool("BRAINTRUST_DEBUG_TRACES", false),

		OpenAIAPIKey:    getEnvString("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnvString("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnvString("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnvString("GEMINI_API_KEY", ""),

		Host:           getEnvString("EVAL_SERVER_HOST", ""),
		Port:           getEnvInt("EVAL_SERVER_PORT", DefaultPort),
		EvalsDir:       getEnvString("EVAL_SERVER_EVALS_DIR", DefaultEvalsDir),
		EvalPattern:    getEnvString("EVAL_SERVER_EVAL_PATTERN", DefaultEvalPattern),
		MaxConcurrency: getEnvInt("EVAL_SERVER_MAX_CONCURRENCY", DefaultMaxConcurrency),
		RequestTimeout: getEnvDuration("EVAL_SERVER_REQUEST_TIMEOUT", DefaultRequestTimeout),
		ServerOrgName:  getEnvString("EVAL_SERVER_ORG_NAME", ""),
		LogLevel:       getEnvString("EVAL_SERVER_LOG_LEVEL", "info"),
	}
}

// Validate reports configuration that would stop the server from doing any work.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnvString returns the trimmed environment variable value or the default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or the default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(strings.TrimSpace(value)) == "true"
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int, or the default when
// unset or unparseable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
