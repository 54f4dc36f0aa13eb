// Package loader discovers evaluation definition files and builds the
// evaluators they declare.
//
// Loading is all or nothing: the first file that fails to load aborts the
// whole load and no evaluators are returned.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/braintrustdata/braintrust-eval-server/config"
	"github.com/braintrustdata/braintrust-eval-server/evaluator"
	"github.com/braintrustdata/braintrust-eval-server/logger"
	"github.com/braintrustdata/braintrust-eval-server/parameters"
	"github.com/braintrustdata/braintrust-eval-server/registry"
)

var (
	// ErrEvalsDirNotFound is returned when the evals directory is missing or is not a directory.
	ErrEvalsDirNotFound = errors.New("evals directory not found")
	// ErrNoEvalFiles is returned when no file in the evals directory matches the pattern.
	ErrNoEvalFiles = errors.New("no eval files found")
	// ErrLoadFailed wraps the first file that could not be loaded.
	ErrLoadFailed = errors.New("failed to load eval file")
)

// maxParallelReads bounds how many definition files are read at once.
const maxParallelReads = 8

// Options configure a load.
type Options struct {
	// Dir is the evals directory. Defaults to config.DefaultEvalsDir.
	Dir string
	// Pattern selects definition files by base name, in doublestar syntax.
	// Defaults to config.DefaultEvalPattern.
	Pattern string
	// Registry resolves the names definitions refer to. Required.
	Registry *registry.Registry
	Logger   logger.Logger
}

// Discover returns the paths of the definition files in dir, in lexical order.
func Discover(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = config.DefaultEvalPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid eval file pattern %q", pattern)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrEvalsDirNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEvalsDirNotFound, dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := doublestar.Match(pattern, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("matching %q: %w", entry.Name(), err)
		}
		if ok {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files matching %s in %s", ErrNoEvalFiles, pattern, dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// Load discovers and loads every definition file in opts.Dir.
func Load(ctx context.Context, opts Options) ([]*evaluator.Evaluator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("loader: a registry is required")
	}
	if opts.Dir == "" {
		opts.Dir = config.DefaultEvalsDir
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	paths, err := Discover(opts.Dir, opts.Pattern)
	if err != nil {
		return nil, err
	}
	log.Info("found eval files", "count", len(paths), "files", baseNames(paths))

	files, err := readAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	var (
		out  []*evaluator.Evaluator
		seen = make(map[string]string)
	)
	for i, f := range files {
		evs, err := build(f, paths[i], opts.Registry)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, paths[i], err)
		}
		for _, ev := range evs {
			if prev, ok := seen[ev.Name]; ok {
				return nil, fmt.Errorf("%w: %s: evaluator %q is already defined in %s", ErrLoadFailed, paths[i], ev.Name, prev)
			}
			seen[ev.Name] = paths[i]
		}
		out = append(out, evs...)
	}

	names := make([]string, len(out))
	for i, ev := range out {
		names[i] = ev.Name
	}
	log.Info("loaded evaluators", "count", len(out), "names", names)
	return out, nil
}

// readAll reads and parses the files concurrently. When several fail, the
// lexically first failure is reported.
func readAll(ctx context.Context, paths []string) ([]*File, error) {
	files := make([]*File, len(paths))
	errs := make([]error, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				errs[i] = err
				return nil
			}
			files[i], errs[i] = parseDefinition(data)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, paths[i], err)
		}
	}
	return files, nil
}

// build resolves one file's definitions against the registry.
func build(f *File, path string, reg *registry.Registry) ([]*evaluator.Evaluator, error) {
	if len(f.Evals) == 0 {
		return nil, fmt.Errorf("file declares no evaluations")
	}

	out := make([]*evaluator.Evaluator, 0, len(f.Evals))
	for _, def := range f.Evals {
		ev, err := buildOne(def, path, reg)
		if err != nil {
			return nil, fmt.Errorf("evaluator %q: %w", def.Name, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func buildOne(def Definition, path string, reg *registry.Registry) (*evaluator.Evaluator, error) {
	task, err := reg.Task(def.Task)
	if err != nil {
		return nil, err
	}

	ev := &evaluator.Evaluator{
		Name:           def.Name,
		ExperimentName: def.ExperimentName,
		ProjectName:    def.Project,
		Data: evaluator.DataSource{
			ProjectName: def.Data.Project,
			DatasetName: def.Data.Dataset,
			DatasetID:   def.Data.DatasetID,
			Inline:      def.Data.Inline,
		},
		Task:        task,
		Parallelism: def.Parallelism,
		Tags:        def.Tags,
		Metadata:    def.Metadata,
		Parameters:  make(map[string]parameters.Descriptor, len(def.Parameters)),
		Source:      path,
	}

	for _, ref := range def.Scores {
		if ref.Hosted != "" {
			ev.HostedScorers = append(ev.HostedScorers, ref.Hosted)
			continue
		}
		scorer, err := reg.Scorer(ref.Name)
		if err != nil {
			return nil, err
		}
		ev.Scorers = append(ev.Scorers, scorer)
	}

	for key, name := range def.Parameters {
		d, err := reg.Parameter(name)
		if err != nil {
			return nil, err
		}
		ev.Parameters[key] = d
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}
