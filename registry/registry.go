// Package registry holds the tasks, scorers and parameter descriptors that
// evaluation definition files refer to by name.
//
// Go code populates a Registry at startup; the loader then resolves every
// name in a definition file against it. A Registry is not safe for
// concurrent registration, but lookups may run concurrently once it is
// populated.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/braintrustdata/braintrust-eval-server/eval"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
)

var (
	// ErrNotFound is returned when a definition names something that was never registered.
	ErrNotFound = errors.New("not registered")
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("already registered")
)

// Registry maps names to the building blocks of an evaluation.
type Registry struct {
	tasks      map[string]eval.TaskFunc[any, any]
	scorers    map[string]eval.Scorer[any, any]
	parameters map[string]parameters.Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		tasks:      make(map[string]eval.TaskFunc[any, any]),
		scorers:    make(map[string]eval.Scorer[any, any]),
		parameters: make(map[string]parameters.Descriptor),
	}
}

// RegisterTask adds a task under name.
func (r *Registry) RegisterTask(name string, task eval.TaskFunc[any, any]) error {
	if task == nil {
		return fmt.Errorf("task %q is nil", name)
	}
	return register(r.tasks, "task", name, task)
}

// RegisterScorer adds a scorer under name. The name is what definitions
// refer to; the scorer's own Name is what its scores are reported as.
func (r *Registry) RegisterScorer(name string, scorer eval.Scorer[any, any]) error {
	if scorer == nil {
		return fmt.Errorf("scorer %q is nil", name)
	}
	return register(r.scorers, "scorer", name, scorer)
}

// RegisterParameter adds a parameter descriptor under name.
func (r *Registry) RegisterParameter(name string, d parameters.Descriptor) error {
	if d.Type == "" {
		return fmt.Errorf("parameter %q has no type", name)
	}
	return register(r.parameters, "parameter", name, d)
}

// Task returns the task registered under name.
func (r *Registry) Task(name string) (eval.TaskFunc[any, any], error) {
	return lookup(r.tasks, "task", name)
}

// Scorer returns the scorer registered under name.
func (r *Registry) Scorer(name string) (eval.Scorer[any, any], error) {
	return lookup(r.scorers, "scorer", name)
}

// Parameter returns the descriptor registered under name.
func (r *Registry) Parameter(name string) (parameters.Descriptor, error) {
	return lookup(r.parameters, "parameter", name)
}

func register[T any](m map[string]T, kind, name string, v T) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	if _, ok := m[name]; ok {
		return fmt.Errorf("%s %q: %w", kind, name, ErrDuplicate)
	}
	m[name] = v
	return nil
}

func lookup[T any](m map[string]T, kind, name string) (T, error) {
	v, ok := m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q: %w (known: %s)", kind, name, ErrNotFound, strings.Join(names(m), ", "))
	}
	return v, nil
}

func names[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
