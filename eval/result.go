package eval

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScoreSummary aggregates one score across the cases of a run.
type ScoreSummary struct {
	Name string
	// Score is the mean over the cases that produced this score.
	Score float64
	Count int
}

// Result contains the results of an evaluation.
type Result struct {
	key        key
	err        error
	elapsed    time.Duration
	permalink  string
	projectURL string
	scores     map[string]ScoreSummary
	cases      int
}

// key contains the data needed to uniquely identify and reference an eval.
type key struct {
	experimentID string
	name         string
	projectID    string
	projectName  string
}

// Permalink returns link to this eval in the Braintrust UI.
func (r *Result) Permalink() (string, error) {
	return r.permalink, nil
}

// ProjectURL returns the link to the experiment's project.
func (r *Result) ProjectURL() string {
	return r.projectURL
}

// Error returns the error from running the eval.
func (r *Result) Error() error {
	return r.err
}

// Name returns the experiment name.
func (r *Result) Name() string {
	return r.key.name
}

// ID returns the experiment ID.
func (r *Result) ID() string {
	return r.key.experimentID
}

// ProjectID returns the id of the experiment's project.
func (r *Result) ProjectID() string {
	return r.key.projectID
}

// ProjectName returns the name of the experiment's project.
func (r *Result) ProjectName() string {
	return r.key.projectName
}

// Scores returns the mean of every score name seen during the run.
func (r *Result) Scores() map[string]ScoreSummary {
	return r.scores
}

// Cases returns how many cases were run.
func (r *Result) Cases() int {
	return r.cases
}

// Elapsed returns the wall time of the run.
func (r *Result) Elapsed() time.Duration {
	return r.elapsed
}

// String returns a string representaton of the result for printing on the console.
//
// The format it prints will change and shouldn't be relied on for programmatic use.
func (r *Result) String() string {
	projectDisplay := r.key.projectName
	if projectDisplay == "" {
		projectDisplay = r.key.projectID
	}

	lines := []string{
		"",
		fmt.Sprintf("=== Experiment: %s ===", r.key.name),
		fmt.Sprintf("Project: %s", projectDisplay),
		fmt.Sprintf("Cases: %d", r.cases),
		fmt.Sprintf("Duration: %.1fs", r.elapsed.Seconds()),
		fmt.Sprintf("Link: %s", r.permalink),
	}

	if len(r.scores) > 0 {
		names := make([]string, 0, len(r.scores))
		for name := range r.scores {
			names = append(names, name)
		}
		sort.Strings(names)
		lines = append(lines, "Scores:")
		for _, name := range names {
			s := r.scores[name]
			lines = append(lines, fmt.Sprintf("  %s: %.2f%% (%d)", name, s.Score*100, s.Count))
		}
	}

	if r.err != nil {
		lines = append(lines, "Errors:")
		lines = append(lines, "  "+r.err.Error())
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}
