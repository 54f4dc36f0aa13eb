package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/evaluator"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

// maxBodyBytes bounds POST /eval bodies; inline datasets can be large.
const maxBodyBytes = 32 << 20

// handleRoot handles GET / - health check
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Hello, world!"))
}

// handleList handles GET /list - returns all registered evaluators
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]evaluatorInfo, len(s.names))
	for _, name := range s.names {
		ev := s.evaluators[name]
		params := ev.Parameters
		if params == nil {
			params = map[string]parameters.Descriptor{}
		}
		scores := make([]scorerInfo, 0, len(ev.Scorers)+len(ev.HostedScorers))
		for _, n := range ev.ScorerNames() {
			scores = append(scores, scorerInfo{Name: n})
		}
		out[name] = evaluatorInfo{Parameters: params, Scores: scores}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEval handles POST /eval - executes an evaluator
func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req evalRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ev, ok := s.evaluators[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "evaluator %q not found", req.Name)
		return
	}

	bundle, err := parameters.ParseBundle(req.Parameters, ev.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid parameters: %v", err)
		return
	}

	data := evaluator.DataSource{
		ProjectName: req.Data.ProjectName,
		DatasetName: req.Data.DatasetName,
		DatasetID:   req.Data.DatasetID,
		Inline:      req.Data.Data,
	}
	if data.IsZero() && ev.Data.IsZero() {
		writeError(w, http.StatusBadRequest, "evaluator %q has no data; send data in the request", req.Name)
		return
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server busy: %v", err)
		return
	}
	defer s.slots.Release(1)

	opts := evaluator.RunOpts{
		Target:         targetFrom(ctx),
		TracerProvider: s.cfg.TracerProvider,
		ExperimentName: req.ExperimentName,
		ProjectID:      req.ProjectID,
		Data:           data,
		Parameters:     bundle,
	}

	log := s.logger
	log.Info("running evaluator", "name", ev.Name, "stream", req.Stream, "request_id", requestID(ctx))

	if req.Stream {
		s.streamEval(w, r, ev, opts)
		return
	}

	result, err := ev.Run(ctx, opts)
	if result == nil {
		if err == nil {
			err = fmt.Errorf("evaluator %q returned no result", ev.Name)
		}
		status := runFailureStatus(err)
		if status == http.StatusBadRequest {
			log.Warn("evaluation rejected", "name", ev.Name, "error", err)
			writeError(w, status, "%v", err)
			return
		}
		log.Error("evaluation failed", "name", ev.Name, "error", err)
		writeError(w, status, "evaluation failed: %v", err)
		return
	}
	if err != nil {
		log.Warn("evaluation finished with errors", "name", ev.Name, "error", err)
	}
	writeJSON(w, http.StatusOK, buildEvalResponse(result))
}

// streamEval runs ev, sending one progress event per case.
func (s *Server) streamEval(w http.ResponseWriter, r *http.Request, ev *evaluator.Evaluator, opts evaluator.RunOpts) {
	stream := newSSEWriter(w)

	opts.OnCase = func(c eval.CaseResult[any, any]) {
		stream.send("progress", newProgressEvent(ev.Name, c))
	}

	result, err := ev.Run(r.Context(), opts)
	if result == nil {
		if err == nil {
			err = fmt.Errorf("evaluator %q returned no result", ev.Name)
		}
		s.logger.Error("evaluation failed", "name", ev.Name, "error", err)
		stream.send("error", errorBody{Error: err.Error(), Status: runFailureStatus(err)})
		return
	}
	if err != nil {
		s.logger.Warn("evaluation finished with errors", "name", ev.Name, "error", err)
	}
	stream.send("summary", buildEvalResponse(result))
	stream.send("done", struct{}{})
	if stream.err != nil {
		s.logger.Warn("event stream broken", "name", ev.Name, "error", stream.err)
	}
}

func newProgressEvent(name string, c eval.CaseResult[any, any]) progressEvent {
	ev := progressEvent{
		ID:       c.SpanID,
		Name:     name,
		Input:    c.Input,
		Expected: c.Expected,
		Output:   c.Output,
	}
	if len(c.Scores) > 0 {
		ev.Scores = eval.ScoreMap(c.Scores)
	}
	if c.Err != nil {
		ev.Error = c.Err.Error()
	}
	return ev
}

func buildEvalResponse(result *eval.Result) evalResponse {
	permalink, _ := result.Permalink()
	scores := make(map[string]scoreSummary, len(result.Scores()))
	for name, sc := range result.Scores() {
		scores[name] = scoreSummary{Name: sc.Name, Score: sc.Score}
	}
	return evalResponse{
		ExperimentName: result.Name(),
		ProjectName:    result.ProjectName(),
		ProjectID:      result.ProjectID(),
		ExperimentID:   result.ID(),
		ExperimentURL:  permalink,
		ProjectURL:     result.ProjectURL(),
		Scores:         scores,
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// runFailureStatus maps an evaluator run error to the status reported for it.
func runFailureStatus(err error) int {
	if errors.Is(err, evaluator.ErrDataset) || errors.Is(err, evaluator.ErrNoData) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorBody{Error: fmt.Sprintf(format, args...)})
}
