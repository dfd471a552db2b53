// Package main is the entry point for the proxygen binary. It emits the
// compile-time stubs interpose needs to proxy interface contracts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/interpose/internal/gen"
	"github.com/polisai/interpose/pkg/config"
	"github.com/polisai/interpose/pkg/logging"
)

const defaultLogLevel = "info"

// CLIConfig holds the parsed CLI configuration.
type CLIConfig struct {
	Package    string
	Types      []string
	Interfaces []string
	Output     string
	Config     string
	Watch      bool
	LogLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proxygen",
		Short: "Generate interpose proxy stubs",
		Long: `Generate the stubs interpose uses to proxy interface contracts.

Each stub forwards every member to the proxy instance and registers itself
at init time. Targets come from flags or from the generate section of a
configuration file.

Examples:
  proxygen --package ./internal/orders --type OrderService --interfaces Auditor
  proxygen --config interpose.yaml --watch`,
		RunE:         runGenerate,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("package", "p", "", "Package pattern holding the contracts")
	rootCmd.Flags().StringSliceP("type", "t", nil, "Contract names; Name+Other adds an interface to one stub")
	rootCmd.Flags().StringSliceP("interfaces", "i", nil, "Interfaces added to a second stub of every type")
	rootCmd.Flags().StringP("output", "o", "proxies_gen.go", "Output file, relative to the package directory")
	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().BoolP("watch", "w", false, "Regenerate when the configuration or contract sources change")
	rootCmd.Flags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	return rootCmd
}

func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	flags := cmd.Flags()
	cli := &CLIConfig{}
	var err error
	if cli.Package, err = flags.GetString("package"); err != nil {
		return nil, fmt.Errorf("failed to get package flag: %w", err)
	}
	if cli.Types, err = flags.GetStringSlice("type"); err != nil {
		return nil, fmt.Errorf("failed to get type flag: %w", err)
	}
	if cli.Interfaces, err = flags.GetStringSlice("interfaces"); err != nil {
		return nil, fmt.Errorf("failed to get interfaces flag: %w", err)
	}
	if cli.Output, err = flags.GetString("output"); err != nil {
		return nil, fmt.Errorf("failed to get output flag: %w", err)
	}
	if cli.Config, err = flags.GetString("config"); err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if cli.Watch, err = flags.GetBool("watch"); err != nil {
		return nil, fmt.Errorf("failed to get watch flag: %w", err)
	}
	if cli.LogLevel, err = flags.GetString("log-level"); err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	if cli.Package == "" && cli.Config == "" {
		return nil, errors.New("either --package or --config is required")
	}
	if cli.Package != "" && len(cli.Types) == 0 {
		return nil, errors.New("--package needs at least one --type")
	}
	if cli.Watch && cli.Config == "" {
		return nil, errors.New("--watch requires --config")
	}
	return cli, nil
}

// buildEntries returns the generation targets and the directory package
// patterns are resolved from.
func buildEntries(cli *CLIConfig) ([]config.GenerateConfig, string, error) {
	var (
		entries []config.GenerateConfig
		dir     string
	)
	if cli.Config != "" {
		cfg, err := config.Load(cli.Config)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, cfg.Generate...)
		dir = filepath.Dir(cli.Config)
	}
	if cli.Package != "" {
		entries = append(entries, config.GenerateConfig{
			Package:    cli.Package,
			Types:      cli.Types,
			Interfaces: cli.Interfaces,
			Output:     cli.Output,
		})
	}
	if len(entries) == 0 {
		return nil, "", fmt.Errorf("%s has no generate targets", cli.Config)
	}
	return entries, dir, nil
}

func generate(ctx context.Context, cli *CLIConfig, logger *slog.Logger) ([]gen.Result, error) {
	entries, dir, err := buildEntries(cli)
	if err != nil {
		return nil, err
	}
	runner := &gen.Runner{Dir: dir, Logger: logger}
	return runner.Run(ctx, entries)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.SetupLogger(logging.Config{Level: cli.LogLevel, Pretty: true})

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	results, err := generate(ctx, cli, logger)
	if err != nil {
		return err
	}
	if !cli.Watch {
		return nil
	}

	w, err := config.NewWatcher(config.WatcherOptions{
		Paths:    watchPaths(cli.Config, results),
		Match:    sourceFile,
		Debounce: 300 * time.Millisecond,
		Logger:   logger,
	}, func(string) error {
		_, err := generate(ctx, cli, logger)
		return err
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	logger.Info("Watching for changes", "config", cli.Config)

	<-ctx.Done()
	return w.Stop()
}

// watchPaths is the configuration file plus every generated package directory.
func watchPaths(configPath string, results []gen.Result) []string {
	paths := []string{configPath}
	seen := map[string]bool{}
	for _, r := range results {
		dir := filepath.Dir(r.Path)
		if !seen[dir] {
			seen[dir] = true
			paths = append(paths, dir)
		}
	}
	return paths
}

// sourceFile accepts hand-written Go sources. Generated and test files do
// not change contracts.
func sourceFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".go") &&
		!strings.HasSuffix(name, "_gen.go") &&
		!strings.HasSuffix(name, "_test.go")
}
