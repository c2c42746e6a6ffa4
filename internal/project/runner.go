package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/candid-extractor/internal/wasm"
)

// Result is the outcome of extracting one canister.
type Result struct {
	Name     string        `yaml:"name" json:"name"`
	Wasm     string        `yaml:"wasm" json:"wasm"`
	Output   string        `yaml:"output,omitempty" json:"output,omitempty"`
	Bytes    int           `yaml:"bytes" json:"bytes"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	Kind     string        `yaml:"error_kind,omitempty" json:"error_kind,omitempty"`
	Error    string        `yaml:"error,omitempty" json:"error,omitempty"`

	// Candid is the extracted interface; it is not part of reports.
	Candid string `yaml:"-" json:"-"`
}

// OK reports whether the canister was extracted (and written, if requested).
func (r Result) OK() bool {
	return r.Error == ""
}

// Runner extracts many canisters in parallel. A failing canister never
// stops the others.
type Runner struct {
	extractor *wasm.Extractor
	jobs      int
	logger    *zap.Logger
}

// NewRunner creates a runner that extracts at most jobs modules at once.
func NewRunner(extractor *wasm.Extractor, jobs int, logger *zap.Logger) *Runner {
	if jobs < 1 {
		jobs = 1
	}
	return &Runner{
		extractor: extractor,
		jobs:      jobs,
		logger:    logger.With(zap.String("component", "batch-runner")),
	}
}

// Run extracts every canister of the manifest and writes the configured
// .did outputs. Results keep manifest order.
func (r *Runner) Run(ctx context.Context, m *Manifest) ([]Result, error) {
	r.logger.Info("Extracting canisters",
		zap.String("manifest", m.Path()),
		zap.Int("count", len(m.Canisters)),
		zap.Int("jobs", r.jobs),
	)

	results := make([]Result, len(m.Canisters))

	var g errgroup.Group
	g.SetLimit(r.jobs)

	for i, c := range m.Canisters {
		g.Go(func() error {
			results[i] = r.extract(ctx, m, c)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}

	if failed > 0 {
		r.logger.Warn("Some canisters failed",
			zap.Int("extracted", len(results)-failed),
			zap.Int("failed", failed),
		)
		return results, &BatchError{Failed: failed, Total: len(results)}
	}

	r.logger.Info("All canisters extracted", zap.Int("count", len(results)))
	return results, nil
}

func (r *Runner) extract(ctx context.Context, m *Manifest, c Canister) Result {
	res := Result{
		Name:   c.Name,
		Wasm:   m.WasmPath(c),
		Output: m.CandidPath(c),
	}

	start := time.Now()
	text, err := r.extractor.ExtractFile(ctx, res.Wasm)
	res.Duration = time.Since(start)

	if err != nil {
		r.logger.Error("Failed to extract canister",
			zap.String("name", c.Name),
			zap.Error(err),
		)
		res.Kind = wasm.KindOf(err).String()
		res.Error = err.Error()
		return res
	}

	res.Candid = text
	res.Bytes = len(text)

	if res.Output != "" {
		if err := WriteCandid(res.Output, text); err != nil {
			res.Error = err.Error()
			return res
		}
	}

	return res
}

// WriteCandid writes an extracted interface, creating parent directories.
func WriteCandid(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", path, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	return nil
}
