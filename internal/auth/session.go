package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// Session is the eval server's own login. It logs in in the background so
// the server can start accepting requests before the Braintrust app answers.
type Session struct {
	mu     sync.RWMutex
	info   *Info
	err    error
	done   chan struct{}
	logger logger.Logger
	cancel context.CancelFunc
	opts   Options
}

// Endpoints holds the API credentials and URLs.
type Endpoints struct {
	APIKey string
	APIURL string
	AppURL string
}

// NewSession validates opts and starts logging in.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if opts.AppURL == "" {
		return nil, fmt.Errorf("app URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		logger: opts.Logger,
		done:   make(chan struct{}),
		cancel: cancel,
		opts:   opts,
	}
	go s.run(ctx)
	return s, nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	info, err := loginUntilSuccess(ctx, s.opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		s.logger.Warn("login failed", "error", err)
		return
	}
	s.info = info
	s.logger.Info("logged in to braintrust", "org_name", info.OrgName, "org_id", info.OrgID)
}

// Close stops a login that is still retrying.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Endpoints returns the credentials and URLs to use right now: the ones the
// login reported once it has finished, the configured ones before that.
func (s *Session) Endpoints() Endpoints {
	if info, ok := s.Info(); ok {
		return Endpoints{APIKey: info.APIKey, APIURL: info.APIURL, AppURL: s.opts.AppURL}
	}
	apiURL := s.opts.APIURL
	if apiURL == "" {
		apiURL = "https://api.braintrust.dev"
	}
	return Endpoints{APIKey: s.opts.APIKey, APIURL: apiURL, AppURL: s.opts.AppURL}
}

// OrgName returns the organization name, or "" until login completes.
func (s *Session) OrgName() string {
	if info, ok := s.Info(); ok {
		return info.OrgName
	}
	return ""
}

// Info returns the login result without blocking.
func (s *Session) Info() (*Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info != nil && s.info.LoggedIn {
		return s.info, true
	}
	return nil, false
}

// Login blocks until the background login finishes or ctx is done.
func (s *Session) Login(ctx context.Context) (*Info, error) {
	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.info, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewTestSession returns an already logged in session that never touches the
// network. It exists for tests in other packages.
func NewTestSession(info *Info, log logger.Logger) *Session {
	done := make(chan struct{})
	close(done)
	return &Session{
		info:   info,
		done:   done,
		logger: log,
		opts: Options{
			APIKey: info.APIKey,
			AppURL: info.AppURL,
			APIURL: info.APIURL,
		},
	}
}
