package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/braintrustdata/braintrust-eval-server/api"
	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/internal/auth"
)

// Playground request headers.
const (
	headerAuthToken = "x-bt-auth-token"
	headerOrgName   = "x-bt-org-name"
	headerRequestID = "X-Request-Id"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	targetKey
)

// newCORS allows the Braintrust app, its preview deployments and localhost,
// including Chrome's private network preflight.
func newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowOriginFunc:  isAllowedOrigin,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Api-Key", "x-bt-auth-token", "x-bt-parent", "x-bt-org-name", "x-bt-stream-fmt", "x-bt-use-cache", "x-bt-project-id"},
		ExposedHeaders:   []string{"x-bt-cursor", "x-bt-found-existing-experiment", "x-bt-span-id", "x-bt-span-export", headerRequestID},
		AllowCredentials: true,
		// Private network preflights come from the hosted app calling a
		// server on the user's machine.
		AllowPrivateNetwork: true,
		MaxAge:              86400,
	})
}

// isAllowedOrigin checks if the origin is in the whitelist.
func isAllowedOrigin(origin string) bool {
	switch origin {
	case "https://www.braintrust.dev", "https://www.braintrustdata.com", "https://braintrust.dev":
		return true
	}
	if strings.HasPrefix(origin, "https://") && strings.HasSuffix(origin, ".preview.braintrust.dev") {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
}

// requestIDMiddleware tags every request and response with an id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// loggingMiddleware logs every request with its status, size and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration.String(),
			"origin", r.Header.Get("Origin"),
			"request_id", w.Header().Get(headerRequestID))
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware resolves who the request acts as and stores the eval
// target for handlers. A caller token wins over the server's own key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgName := r.Header.Get(headerOrgName)
		if s.cfg.OrgName != "" {
			if orgName != "" && orgName != s.cfg.OrgName {
				writeError(w, http.StatusForbidden, "this server only accepts requests for organization %q", s.cfg.OrgName)
				return
			}
			orgName = s.cfg.OrgName
		}

		info, err := s.login(r.Context(), bearerToken(r), orgName)
		if err != nil {
			status := http.StatusUnauthorized
			switch {
			case errors.Is(err, auth.ErrOrgNotFound):
				status = http.StatusForbidden
			case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, errNoCredentials):
			default:
				if r.Context().Err() == nil {
					status = http.StatusBadGateway
				}
			}
			s.logger.Warn("request not authorized", "error", err, "request_id", requestID(r.Context()))
			writeError(w, status, "%v", err)
			return
		}

		client, err := api.NewClient(info.APIKey, api.WithAPIURL(info.APIURL), api.WithLogger(s.logger))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		target := eval.Target{API: client, AppURL: s.cfg.AppURL, OrgName: info.OrgName}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), targetKey, target)))
	})
}

var errNoCredentials = errors.New("missing x-bt-auth-token and the server has no API key")

func (s *Server) login(ctx context.Context, token, orgName string) (*auth.Info, error) {
	if token != "" {
		return s.tokens.Resolve(ctx, token, orgName)
	}
	if s.session == nil {
		return nil, errNoCredentials
	}
	info, err := s.session.Login(ctx)
	if err != nil {
		return nil, err
	}
	if orgName != "" && info.OrgName != orgName {
		return nil, auth.ErrOrgNotFound
	}
	return info, nil
}

func targetFrom(ctx context.Context) eval.Target {
	t, _ := ctx.Value(targetKey).(eval.Target)
	return t
}

// bearerToken returns the playground token, falling back to an
// Authorization bearer token.
func bearerToken(r *http.Request) string {
	if token := r.Header.Get(headerAuthToken); token != "" {
		return token
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
