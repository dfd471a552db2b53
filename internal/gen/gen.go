package gen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polisai/interpose/pkg/config"
)

// Result describes one written file.
type Result struct {
	Package   string
	Path      string
	Contracts int
	// Unchanged is set when the file already had the generated content.
	Unchanged bool
}

// Runner generates stub files from GenerateConfig entries.
type Runner struct {
	// Dir is the working directory for package loading.
	Dir    string
	Logger *slog.Logger
}

// Run loads, renders and writes every entry, stopping at the first failure.
func (r *Runner) Run(ctx context.Context, entries []config.GenerateConfig) ([]Result, error) {
	results := make([]Result, 0, len(entries))
	for i := range entries {
		res, err := r.RunOne(ctx, entries[i])
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RunOne generates the stubs of a single package. Output is relative to the
// package directory unless absolute.
func (r *Runner) RunOne(ctx context.Context, entry config.GenerateConfig) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := entry.Validate(); err != nil {
		return Result{}, err
	}

	pkg, err := Load(ctx, Request{
		Pattern:    entry.Package,
		Dir:        r.Dir,
		Types:      entry.Types,
		Interfaces: entry.Interfaces,
	})
	if err != nil {
		return Result{}, err
	}
	src, err := Generate(pkg)
	if err != nil {
		return Result{}, err
	}

	out := entry.Output
	if !filepath.IsAbs(out) {
		out = filepath.Join(pkg.Dir, out)
	}
	res := Result{Package: pkg.Path, Path: out, Contracts: len(pkg.Contracts)}

	//nolint:gosec // Output paths come from operator configuration
	if existing, err := os.ReadFile(out); err == nil && bytes.Equal(existing, src) {
		res.Unchanged = true
		logger.Debug("Stubs up to date", "package", pkg.Path, "file", out)
		return res, nil
	}
	//nolint:gosec // generated sources are world-readable like the rest of the tree
	if err := os.WriteFile(out, src, 0o644); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("Stubs generated", "package", pkg.Path, "file", out, "contracts", len(pkg.Contracts))
	return res, nil
}
