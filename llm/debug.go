package llm

import (
	"bytes"
	"io"
	"net/http"

	"github.com/openai/openai-go/option"

	"github.com/braintrustdata/braintrust-eval-server/config"
	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// maxLoggedBody caps how much of a request or response body is logged.
const maxLoggedBody = 4 << 10

// DebugMiddleware logs every OpenAI request and response, bodies included,
// at debug level. Bodies are read and replaced so the SDK still sees them.
func DebugMiddleware(log logger.Logger) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		if req.Body != nil {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				log.Debug("openai request: reading body", "error", err)
				return next(req)
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			log.Debug("openai request", "method", req.Method, "url", req.URL.String(), "body", truncate(body))
		}

		resp, err := next(req)
		if err != nil {
			log.Debug("openai response", "url", req.URL.String(), "error", err)
			return resp, err
		}

		if resp.Body != nil {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(body))
			if readErr != nil {
				log.Debug("openai response: reading body", "error", readErr)
				return resp, nil
			}
			log.Debug("openai response", "url", req.URL.String(), "status", resp.StatusCode, "body", truncate(body))
		}
		return resp, nil
	}
}

// OpenAIOptions returns the request options every OpenAI client built from
// cfg shares.
func OpenAIOptions(cfg *config.Config) []option.RequestOption {
	if cfg.LogLevel != "debug" || cfg.Logger == nil {
		return nil
	}
	return []option.RequestOption{option.WithMiddleware(DebugMiddleware(cfg.Logger))}
}

func truncate(body []byte) string {
	if len(body) <= maxLoggedBody {
		return string(body)
	}
	return string(body[:maxLoggedBody]) + "...(truncated)"
}
