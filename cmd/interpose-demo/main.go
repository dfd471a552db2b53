// Package main is the entry point for the interpose-demo binary. It proxies
// the sample order service with the interceptor chain described by a
// configuration file, drives a few calls through it and serves the
// resulting Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/interpose/internal/orders"
	"github.com/polisai/interpose/pkg/config"
	"github.com/polisai/interpose/pkg/intercept"
	"github.com/polisai/interpose/pkg/interceptors"
	"github.com/polisai/interpose/pkg/logging"
	"github.com/polisai/interpose/pkg/policy"
	"github.com/polisai/interpose/pkg/telemetry"
)

// CLIConfig holds the parsed CLI configuration.
type CLIConfig struct {
	Config    string
	Listen    string
	Calls     int
	Principal string
	Serve     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "interpose-demo",
		Short: "Drive the sample order service through an interceptor chain",
		Long: `Proxy the sample order service with the interceptors enabled in the
configuration file, place and cancel a few orders, and expose call metrics.

Example:
  interpose-demo --config interpose.yaml --calls 20 --principal admin --serve`,
		RunE:         runDemo,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().String("listen", "", "Metrics listen address, overrides metrics.address")
	rootCmd.Flags().IntP("calls", "n", 10, "Number of orders to place")
	rootCmd.Flags().String("principal", "", "Principal attached to context-first calls")
	rootCmd.Flags().Bool("serve", false, "Keep serving metrics until interrupted")

	return rootCmd
}

func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	flags := cmd.Flags()
	cli := &CLIConfig{}
	var err error
	if cli.Config, err = flags.GetString("config"); err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if cli.Listen, err = flags.GetString("listen"); err != nil {
		return nil, fmt.Errorf("failed to get listen flag: %w", err)
	}
	if cli.Calls, err = flags.GetInt("calls"); err != nil {
		return nil, fmt.Errorf("failed to get calls flag: %w", err)
	}
	if cli.Principal, err = flags.GetString("principal"); err != nil {
		return nil, fmt.Errorf("failed to get principal flag: %w", err)
	}
	if cli.Serve, err = flags.GetBool("serve"); err != nil {
		return nil, fmt.Errorf("failed to get serve flag: %w", err)
	}
	if cli.Calls < 0 {
		return nil, fmt.Errorf("calls must not be negative, got %d", cli.Calls)
	}
	return cli, nil
}

func loadConfig(cli *CLIConfig, logger *slog.Logger) (*config.Config, *config.Provider, error) {
	if cli.Config == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		return cfg, nil, nil
	}
	provider, err := config.NewProvider(cli.Config, logger)
	if err != nil {
		return nil, nil, err
	}
	return provider.Current(), provider, nil
}

func redactions(cfg config.TelemetryConfig) []telemetry.Redaction {
	out := make([]telemetry.Redaction, 0, len(cfg.Redactions))
	for _, r := range cfg.Redactions {
		out = append(out, telemetry.Redaction{Attribute: r.Attribute, Strategy: r.Strategy})
	}
	return out
}

// auditCalls records every contract call with the auditor that also backs
// the proxy's Auditor mixin.
func auditCalls(auditor orders.Auditor) intercept.Interceptor {
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		_ = inv.Proceed()
		if inv.Method().Origin == intercept.OriginMixin {
			return
		}
		auditor.Audit(inv.Method().String())
	})
}

func newOrderService(ctx context.Context, chain *interceptors.Chain, logger *slog.Logger) (orders.OrderService, error) {
	auditor := &orders.MemoryAuditor{}
	factory := intercept.NewFactory(intercept.FactoryConfig{Logger: logger})

	ics := append([]intercept.Interceptor{auditCalls(auditor)}, chain.Interceptors...)
	opts := append(chain.Options(), intercept.WithMixins(intercept.MixinOf[orders.Auditor](auditor)))
	svc, err := intercept.New[orders.OrderService](ctx, factory, orders.NewMemoryService(), ics, opts...)
	if err != nil {
		return nil, fmt.Errorf("create order service proxy: %w", err)
	}
	return svc, nil
}

// Summary counts the outcomes of a demo run.
type Summary struct {
	Placed   int
	Fetched  int
	Canceled int
	Failed   int
	Denied   int
	Count    int
}

// driveOrders places calls orders, reads each back and cancels every other one.
func driveOrders(ctx context.Context, svc orders.OrderService, calls int, principal string, logger *slog.Logger) Summary {
	if principal != "" {
		ctx = policy.WithPrincipal(ctx, principal)
	}
	var s Summary
	note := func(op string, err error) {
		switch {
		case interceptors.IsDenied(err):
			s.Denied++
			logger.Warn("Call denied", "op", op, "error", err)
		default:
			s.Failed++
			logger.Warn("Call failed", "op", op, "error", err)
		}
	}

	for i := 1; i <= calls; i++ {
		if ctx.Err() != nil {
			break
		}
		if _, err := svc.PlaceOrder(i); err != nil {
			note("place", err)
			continue
		}
		s.Placed++
	}
	for id := 1; id <= s.Placed; id++ {
		if _, err := svc.Get(ctx, id); err != nil {
			note("get", err)
		} else {
			s.Fetched++
		}
		if id%2 == 0 {
			if err := svc.Cancel(ctx, id); err != nil {
				note("cancel", err)
			} else {
				s.Canceled++
			}
		}
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					note("count", err)
					return
				}
				panic(r)
			}
		}()
		s.Count = svc.Count()
	}()
	return s
}

func newMetricsServer(addr, path string, chain *interceptors.Chain) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, otelhttp.NewHandler(chain.Metrics.Handler(), "interpose.metrics"))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, provider, err := loadConfig(cli, slog.Default())
	if err != nil {
		return err
	}
	if provider != nil {
		defer func() { _ = provider.Close() }()
	}

	logger := logging.SetupLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logger.Info("Starting interpose-demo", "config", cli.Config, "calls", cli.Calls)

	shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Error("Failed to flush telemetry", "error", err)
		}
	}()

	chain, err := interceptors.Build(ctx, cfg.Interceptors, interceptors.Deps{
		Logger:     logger,
		Redactions: redactions(cfg.Telemetry),
		Resolve:    cfg.Resolve,
	})
	if err != nil {
		return fmt.Errorf("build interceptors: %w", err)
	}
	defer func() { _ = chain.Close(context.Background()) }()

	if provider != nil {
		updates := provider.Subscribe()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case next := <-updates:
					if err := chain.Reconfigure(ctx, next.Interceptors); err != nil {
						logger.Error("Failed to apply configuration", "error", err)
					}
				}
			}
		}()
		if err := provider.Watch(ctx, 500*time.Millisecond); err != nil {
			logger.Warn("Configuration watch unavailable", "error", err)
		}
	}

	addr := cfg.Metrics.Address
	if cli.Listen != "" {
		addr = cli.Listen
	}
	var srv *http.Server
	if addr != "" && chain.Metrics != nil {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv = newMetricsServer(addr, cfg.Metrics.Path, chain)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Serving metrics", "address", ln.Addr().String(), "path", cfg.Metrics.Path)
	}

	svc, err := newOrderService(ctx, chain, logger)
	if err != nil {
		return err
	}
	summary := driveOrders(ctx, svc, cli.Calls, cli.Principal, logger)
	logger.Info("Demo run finished",
		"placed", summary.Placed,
		"fetched", summary.Fetched,
		"canceled", summary.Canceled,
		"denied", summary.Denied,
		"failed", summary.Failed,
		"count", summary.Count,
		"audited", len(svc.(orders.Auditor).Entries()),
	)

	if cli.Serve {
		<-ctx.Done()
	}
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}
	return nil
}
