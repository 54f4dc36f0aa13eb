package evalserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/braintrustdata/braintrust-eval-server/api"
	"github.com/braintrustdata/braintrust-eval-server/config"
	"github.com/braintrustdata/braintrust-eval-server/devserver"
	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/evals"
	"github.com/braintrustdata/braintrust-eval-server/evaluator"
	"github.com/braintrustdata/braintrust-eval-server/internal/auth"
	"github.com/braintrustdata/braintrust-eval-server/llm"
	"github.com/braintrustdata/braintrust-eval-server/loader"
	"github.com/braintrustdata/braintrust-eval-server/logger"
	"github.com/braintrustdata/braintrust-eval-server/registry"
	bttrace "github.com/braintrustdata/braintrust-eval-server/trace"
)

// ShutdownGrace is how long in-flight requests get to finish on shutdown.
const ShutdownGrace = 30 * time.Second

// ErrNoAPIKey is returned by local runs when no Braintrust API key is configured.
var ErrNoAPIKey = errors.New("BRAINTRUST_API_KEY is required to record experiments")

// Server is a configured eval server: its evaluators are loaded and its
// HTTP handler is built, but nothing listens until Serve is called.
type Server struct {
	config         *config.Config
	logger         logger.Logger
	session        *auth.Session
	tracerProvider *sdktrace.TracerProvider
	registry       *registry.Registry
	evaluators     []*evaluator.Evaluator
	handler        *devserver.Server
}

// New builds a server from the environment and opts.
//
// Configuration is loaded from environment variables first, then
// explicit options are applied (options take precedence). Evaluation
// definitions are loaded from the evals directory; any file that fails to
// load fails New.
//
// Example:
//
//	srv, err := evalserver.New(ctx, evalserver.WithEvalsDir("evals"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close(context.Background())
//	err = srv.Serve(ctx)
func New(ctx context.Context, opts ...Option) (*Server, error) {
	cfg := config.FromEnv()
	o := &options{}
	for _, opt := range opts {
		opt(cfg, o)
	}

	log := cfg.Logger
	if log == nil {
		var err error
		if log, err = logger.NewZap(cfg.LogLevel); err != nil {
			log = logger.NewDefaultLogger()
			log.Warn("falling back to the default logger", "error", err)
		}
		cfg.Logger = log
	}

	s := &Server{config: cfg, logger: log}

	log.Debug("initializing eval server",
		"project", cfg.DefaultProjectName,
		"org", cfg.OrgName,
		"api_url", cfg.APIURL,
		"evals_dir", cfg.EvalsDir,
		"blocking_login", cfg.BlockingLogin)

	// Without a Braintrust key every playground request must bring a token.
	if cfg.APIKey != "" {
		session, err := auth.NewSession(context.Background(), auth.Options{
			AppURL:       cfg.AppURL,
			AppPublicURL: cfg.AppURL,
			APIURL:       cfg.APIURL,
			APIKey:       cfg.APIKey,
			OrgName:      cfg.OrgName,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create auth session: %w", err)
		}
		s.session = session

		if cfg.BlockingLogin {
			log.Debug("waiting for login to complete")
			if _, err := session.Login(ctx); err != nil {
				session.Close()
				return nil, fmt.Errorf("login failed: %w", err)
			}
		}
	} else {
		log.Warn("BRAINTRUST_API_KEY is not set; requests must carry x-bt-auth-token")
	}

	if err := s.setupTracing(); err != nil {
		s.closeSession()
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}

	if err := s.load(ctx, o); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

// setupTracing builds the tracer provider the evaluations and the HTTP
// layer record to.
func (s *Server) setupTracing() error {
	traceConfig := bttrace.Config{
		DefaultProjectName: s.config.DefaultProjectName,
		EnableConsoleLog:   s.config.EnableConsoleTraces,
		Exporter:           s.config.Exporter,
		Logger:             s.logger,
	}

	var src bttrace.Source
	if s.session != nil {
		src = s.session
	}
	tp, err := bttrace.NewTracerProvider(src, traceConfig)
	if err != nil {
		return err
	}
	s.tracerProvider = tp
	return nil
}

// load registers the tasks and scorers and builds the evaluators.
func (s *Server) load(ctx context.Context, o *options) error {
	cfg := s.config

	chat, err := llm.FromConfig(ctx, cfg, s.tracerProvider)
	if err != nil {
		return fmt.Errorf("failed to create inference clients: %w", err)
	}
	judge := llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, llm.OpenAIOptions(cfg)...)

	s.registry = registry.New()
	if err := evals.Register(s.registry, evals.Deps{
		Chat:           chat,
		Judge:          judge.Client(),
		TracerProvider: s.tracerProvider,
	}); err != nil {
		return err
	}
	for _, register := range o.registrations {
		if err := register(s.registry); err != nil {
			return err
		}
	}

	s.evaluators, err = loader.Load(ctx, loader.Options{
		Dir:      cfg.EvalsDir,
		Pattern:  cfg.EvalPattern,
		Registry: s.registry,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	s.handler, err = devserver.New(s.evaluators, s.session, devserver.Config{
		OrgName:        cfg.ServerOrgName,
		AppURL:         cfg.AppURL,
		MaxConcurrency: cfg.MaxConcurrency,
		RequestTimeout: cfg.RequestTimeout,
		TracerProvider: s.tracerProvider,
		Logger:         s.logger,
	})
	return err
}

// Serve listens on the configured address until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	return s.handler.ListenAndServe(ctx, s.config.Addr(), ShutdownGrace)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Evaluators returns the loaded evaluators in load order.
func (s *Server) Evaluators() []*evaluator.Evaluator {
	return append([]*evaluator.Evaluator(nil), s.evaluators...)
}

// Evaluator returns the evaluator called name.
func (s *Server) Evaluator(name string) (*evaluator.Evaluator, bool) {
	for _, ev := range s.evaluators {
		if ev.Name == name {
			return ev, true
		}
	}
	return nil, false
}

// RunOptions tune a local run.
type RunOptions struct {
	// Limit runs only the first Limit cases when positive.
	Limit int
	// OnCase is called once per finished case.
	OnCase func(eval.CaseResult[any, any])
}

// Run runs the evaluator called name with its own data and the server's
// Braintrust credentials.
func (s *Server) Run(ctx context.Context, name string, opts RunOptions) (*eval.Result, error) {
	ev, ok := s.Evaluator(name)
	if !ok {
		return nil, fmt.Errorf("evaluator %q not found", name)
	}
	if s.session == nil {
		return nil, ErrNoAPIKey
	}

	info, err := s.session.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	client, err := api.NewClient(info.APIKey, api.WithAPIURL(info.APIURL), api.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	return ev.Run(ctx, evaluator.RunOpts{
		Target:         eval.Target{API: client, AppURL: s.config.AppURL, OrgName: info.OrgName},
		TracerProvider: s.tracerProvider,
		Limit:          opts.Limit,
		OnCase:         opts.OnCase,
	})
}

// TracerProvider returns the OpenTelemetry TracerProvider used by this server.
func (s *Server) TracerProvider() *sdktrace.TracerProvider {
	return s.tracerProvider
}

// Config returns the resolved configuration.
func (s *Server) Config() *config.Config {
	return s.config
}

// Close flushes pending spans and stops the background login.
func (s *Server) Close(ctx context.Context) error {
	s.closeSession()
	if s.tracerProvider == nil {
		return nil
	}
	return s.tracerProvider.Shutdown(ctx)
}

func (s *Server) closeSession() {
	if s.session != nil {
		s.session.Close()
	}
}

// String returns a string representation of the server
func (s *Server) String() string {
	orgName := s.config.OrgName
	orgID := ""
	if s.session != nil {
		if info, ok := s.session.Info(); ok {
			orgName = info.OrgName
			orgID = info.OrgID
		}
	}

	orgInfo := orgName
	if orgID != "" {
		orgInfo = fmt.Sprintf("%s (ID: %s)", orgName, orgID)
	} else if orgName == "" {
		orgInfo = "<not logged in>"
	}

	names := make([]string, len(s.evaluators))
	for i, ev := range s.evaluators {
		names[i] = ev.Name
	}

	return fmt.Sprintf(`Eval Server:
  Organization: %s
  Project: %s
  API URL: %s
  App URL: %s
  Address: %s
  Evaluators: %v`,
		orgInfo,
		s.config.DefaultProjectName,
		s.config.APIURL,
		s.config.AppURL,
		s.config.Addr(),
		names,
	)
}
