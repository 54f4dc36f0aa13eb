// Package devserver serves loaded evaluators to the Braintrust playground.
//
// The playground lists the evaluators with GET /list and runs one with
// POST /eval, either waiting for a JSON summary or streaming server-sent
// events as cases finish.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/braintrustdata/braintrust-eval-server/config"
	"github.com/braintrustdata/braintrust-eval-server/evaluator"
	"github.com/braintrustdata/braintrust-eval-server/internal/auth"
	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// Config contains configuration options for the dev server.
type Config struct {
	// OrgName optionally restricts the server to a specific organization.
	OrgName string
	// AppURL is the Braintrust app callers' tokens are checked against and
	// links point at.
	AppURL string
	// MaxConcurrency caps concurrent eval runs. Defaults to config.DefaultMaxConcurrency.
	MaxConcurrency int
	// RequestTimeout bounds every request. Defaults to config.DefaultRequestTimeout.
	RequestTimeout time.Duration
	// TokenTTL is how long a caller's token stays verified.
	TokenTTL time.Duration
	// TracerProvider records eval runs and HTTP requests. Defaults to the
	// global provider.
	TracerProvider oteltrace.TracerProvider
	Logger         logger.Logger
}

// Server is the dev server that handles remote evaluation requests.
type Server struct {
	cfg        Config
	logger     logger.Logger
	evaluators map[string]*evaluator.Evaluator
	names      []string
	session    *auth.Session
	tokens     *auth.TokenCache
	slots      *semaphore.Weighted
	handler    http.Handler
}

// New builds a server for evaluators. session is the server's own login,
// used for requests that carry no token; it may be nil, in which case every
// request must bring its own.
func New(evaluators []*evaluator.Evaluator, session *auth.Session, cfg Config) (*Server, error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = config.DefaultMaxConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = config.DefaultRequestTimeout
	}
	if cfg.AppURL == "" {
		cfg.AppURL = auth.DefaultAppURL
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	s := &Server{
		cfg:        cfg,
		logger:     cfg.Logger,
		evaluators: make(map[string]*evaluator.Evaluator, len(evaluators)),
		session:    session,
		tokens:     auth.NewTokenCache(cfg.AppURL, cfg.TokenTTL, cfg.Logger),
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
	for _, ev := range evaluators {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.evaluators[ev.Name]; ok {
			return nil, fmt.Errorf("duplicate evaluator %q", ev.Name)
		}
		s.evaluators[ev.Name] = ev
		s.names = append(s.names, ev.Name)
	}
	sort.Strings(s.names)

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.Handle("/list", s.authMiddleware(http.HandlerFunc(s.handleList))).Methods(http.MethodGet, http.MethodPost)
	router.Handle("/eval", s.authMiddleware(http.HandlerFunc(s.handleEval))).Methods(http.MethodPost)

	var h http.Handler = router
	h = s.timeoutMiddleware(h)
	h = s.loggingMiddleware(h)
	h = requestIDMiddleware(h)
	h = newCORS().Handler(h)
	s.handler = otelhttp.NewHandler(h, "eval-server",
		otelhttp.WithTracerProvider(cfg.TracerProvider),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	s.logger.Info("dev server ready", "evaluators", s.names)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Evaluators returns the served evaluator names in order.
func (s *Server) Evaluators() []string {
	return append([]string(nil), s.names...)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully, giving in-flight requests up to grace to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting dev server", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down dev server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
