package evalserver

import (
	"time"

	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/braintrustdata/braintrust-eval-server/config"
	"github.com/braintrustdata/braintrust-eval-server/logger"
	"github.com/braintrustdata/braintrust-eval-server/registry"
)

// Option is a functional option for configuring a Server
type Option func(*config.Config, *options)

// options are settings that are not part of the environment.
type options struct {
	registrations []func(*registry.Registry) error
}

func withConfig(set func(*config.Config)) Option {
	return func(c *config.Config, _ *options) { set(c) }
}

// WithAPIKey sets the API key (overrides BRAINTRUST_API_KEY)
func WithAPIKey(apiKey string) Option {
	return withConfig(func(c *config.Config) { c.APIKey = apiKey })
}

// WithAPIURL sets the API URL (overrides BRAINTRUST_API_URL)
func WithAPIURL(apiURL string) Option {
	return withConfig(func(c *config.Config) { c.APIURL = apiURL })
}

// WithAppURL sets the app URL (overrides BRAINTRUST_APP_URL)
func WithAppURL(appURL string) Option {
	return withConfig(func(c *config.Config) { c.AppURL = appURL })
}

// WithOrgName sets the organization name (overrides BRAINTRUST_ORG_NAME)
func WithOrgName(orgName string) Option {
	return withConfig(func(c *config.Config) { c.OrgName = orgName })
}

// WithProject sets the default project name (overrides BRAINTRUST_DEFAULT_PROJECT)
func WithProject(projectName string) Option {
	return withConfig(func(c *config.Config) { c.DefaultProjectName = projectName })
}

// WithOpenAI sets the inference key and an optional OpenAI-compatible base
// URL (overrides OPENAI_API_KEY and OPENAI_BASE_URL)
func WithOpenAI(apiKey, baseURL string) Option {
	return withConfig(func(c *config.Config) {
		c.OpenAIAPIKey = apiKey
		c.OpenAIBaseURL = baseURL
	})
}

// WithEvalsDir sets the definitions directory (overrides EVAL_SERVER_EVALS_DIR)
func WithEvalsDir(dir string) Option {
	return withConfig(func(c *config.Config) { c.EvalsDir = dir })
}

// WithEvalPattern sets the definition file pattern (overrides EVAL_SERVER_EVAL_PATTERN)
func WithEvalPattern(pattern string) Option {
	return withConfig(func(c *config.Config) { c.EvalPattern = pattern })
}

// WithAddr sets the listen host and port (overrides EVAL_SERVER_HOST and EVAL_SERVER_PORT)
func WithAddr(host string, port int) Option {
	return withConfig(func(c *config.Config) {
		c.Host = host
		c.Port = port
	})
}

// WithMaxConcurrency caps concurrent eval runs (overrides EVAL_SERVER_MAX_CONCURRENCY)
func WithMaxConcurrency(n int) Option {
	return withConfig(func(c *config.Config) { c.MaxConcurrency = n })
}

// WithRequestTimeout bounds every request (overrides EVAL_SERVER_REQUEST_TIMEOUT)
func WithRequestTimeout(d time.Duration) Option {
	return withConfig(func(c *config.Config) { c.RequestTimeout = d })
}

// WithServerOrgName only accepts playground requests for orgName (overrides EVAL_SERVER_ORG_NAME)
func WithServerOrgName(orgName string) Option {
	return withConfig(func(c *config.Config) { c.ServerOrgName = orgName })
}

// WithLogger sets a custom logger
// If not provided, a zap logger at EVAL_SERVER_LOG_LEVEL is used, or the
// plain default logger when that level is not recognized
func WithLogger(l logger.Logger) Option {
	return withConfig(func(c *config.Config) { c.Logger = l })
}

// WithLogLevel sets the log level (overrides EVAL_SERVER_LOG_LEVEL)
func WithLogLevel(level string) Option {
	return withConfig(func(c *config.Config) { c.LogLevel = level })
}

// WithBlockingLogin makes New wait for the Braintrust login
// By default, login happens asynchronously in the background
func WithBlockingLogin(enabled bool) Option {
	return withConfig(func(c *config.Config) { c.BlockingLogin = enabled })
}

// WithExporter injects a custom OpenTelemetry SpanExporter
// If not provided, an OTLP HTTP exporter will be created automatically
// This is primarily useful for testing with a memory exporter
func WithExporter(exporter trace.SpanExporter) Option {
	return withConfig(func(c *config.Config) { c.Exporter = exporter })
}

// WithConsoleTraces also prints every span to stdout (overrides BRAINTRUST_DEBUG_TRACES)
func WithConsoleTraces(enabled bool) Option {
	return withConfig(func(c *config.Config) { c.EnableConsoleTraces = enabled })
}

// WithRegistrations adds tasks, scorers or parameters before definitions are
// loaded, after the built-in ones.
func WithRegistrations(register ...func(*registry.Registry) error) Option {
	return func(_ *config.Config, o *options) {
		o.registrations = append(o.registrations, register...)
	}
}
