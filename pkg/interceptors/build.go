package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/interpose/internal/governance"
	"github.com/polisai/interpose/pkg/config"
	"github.com/polisai/interpose/pkg/intercept"
	"github.com/polisai/interpose/pkg/logging"
	"github.com/polisai/interpose/pkg/policy"
	"github.com/polisai/interpose/pkg/storage"
	"github.com/polisai/interpose/pkg/telemetry"
)

// PolicyBundleID is the store id of the modules behind the authorize interceptor.
const PolicyBundleID = "authorize"

// Deps supplies the collaborators Build cannot create from configuration.
type Deps struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	// Redactions apply to tracing attributes.
	Redactions []telemetry.Redaction
	// Policy replaces the OPA engine built from the configured modules.
	Policy policy.Filter
	// Metrics is shared between chains; nil creates one when enabled.
	Metrics *Metrics
	// Resolve maps configured module paths to files, e.g. Config.Resolve.
	Resolve func(string) string
	// Store keeps the loaded policy module versions. Nil uses a memory store.
	Store storage.PolicyStore
}

// Chain is an assembled interceptor list plus the stateful components
// behind it.
type Chain struct {
	Interceptors []intercept.Interceptor

	Metrics  *Metrics
	Engine   *policy.Engine
	Store    storage.PolicyStore
	Limiter  *governance.RateLimiter
	Breakers *governance.Breakers
	Timeouts *governance.Timeouts
	Retry    *governance.RetryPolicy

	resolve func(string) string
	logger  *slog.Logger
}

// Options returns the factory options the chain relies on.
func (c *Chain) Options() []intercept.Option {
	return []intercept.Option{intercept.WithSelector(ScopeSelector)}
}

// Reconfigure applies the settings that can change without rebuilding the
// chain: rate limits and the authorize policy modules. Other changes need a
// new Build. A module set that fails to compile leaves the current policy
// and the stored bundle in place, so re-sending it fails again.
func (c *Chain) Reconfigure(ctx context.Context, cfg config.InterceptorsConfig) error {
	if c.Limiter != nil {
		limits, fallback := rateLimits(cfg.RateLimit)
		c.Limiter.Configure(limits, fallback)
	}
	if c.Engine == nil || len(cfg.Authorize.Modules) == 0 {
		return nil
	}

	modules, err := LoadModules(cfg.Authorize.Modules, c.resolve)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	latest, err := c.Store.Latest(ctx, PolicyBundleID)
	switch {
	case err == nil && latest.Digest == storage.Digest(modules):
		return nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("authorize: load stored modules: %w", err)
	}
	if err := c.Engine.Replace(ctx, modules); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	bundle, _, err := c.Store.Save(ctx, PolicyBundleID, modules)
	if err != nil {
		return fmt.Errorf("authorize: store modules: %w", err)
	}
	c.logger.Info("Policy reloaded", "bundle", bundle.ID, "version", bundle.Version, "digest", bundle.Digest)
	return nil
}

// Close releases the policy engine and store.
func (c *Chain) Close(ctx context.Context) error {
	var err error
	if c.Engine != nil {
		err = c.Engine.Close(ctx)
	}
	if c.Store != nil {
		err = errors.Join(err, c.Store.Close())
	}
	return err
}

// Build assembles the interceptors enabled in cfg, outermost first.
func Build(ctx context.Context, cfg config.InterceptorsConfig, deps Deps) (*Chain, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chain := &Chain{resolve: deps.Resolve, logger: logger}
	for _, name := range cfg.ChainOrder() {
		if !cfg.Enabled(name) {
			continue
		}

		var (
			ic  intercept.Interceptor
			err error
		)
		switch name {
		case config.InterceptorLogging:
			ic = Logging(logger, LoggingOptions{
				Level:     logging.ParseLevel(cfg.Logging.Level),
				Arguments: cfg.Logging.Arguments,
			})

		case config.InterceptorTracing:
			ic = Tracing(TracingOptions{
				Tracer:     deps.Tracer,
				Arguments:  cfg.Tracing.Arguments,
				Redactions: deps.Redactions,
			})

		case config.InterceptorMetrics:
			chain.Metrics = deps.Metrics
			if chain.Metrics == nil {
				chain.Metrics = NewMetrics(cfg.Metrics.Namespace)
			}
			ic = chain.Metrics.Interceptor()

		case config.InterceptorAuthorize:
			filter := deps.Policy
			if filter == nil {
				chain.Store = deps.Store
				if chain.Store == nil {
					chain.Store = storage.NewMemoryPolicyStore()
				}
				engine, err := buildEngine(ctx, cfg.Authorize, deps, chain.Store, logger)
				if err != nil {
					return nil, err
				}
				chain.Engine = engine
				filter = engine
			}
			ic = Authorize(filter, AuthorizeOptions{
				Entrypoint: cfg.Authorize.Entrypoint,
				FailOpen:   cfg.Authorize.FailOpen,
				Logger:     logger,
			})

		case config.InterceptorRateLimit:
			limits, fallback := rateLimits(cfg.RateLimit)
			chain.Limiter = governance.NewRateLimiter(limits, fallback)
			ic = RateLimit(chain.Limiter)

		case config.InterceptorCircuitBreaker:
			base := breakerConfig(governance.DefaultBreakerConfig(), cfg.CircuitBreaker.BreakerSettings)
			overrides := make(map[string]governance.BreakerConfig, len(cfg.CircuitBreaker.Methods))
			for key, s := range cfg.CircuitBreaker.Methods {
				overrides[key] = breakerConfig(base, s)
			}
			chain.Breakers = governance.NewBreakers(base, overrides)
			ic = CircuitBreaker(chain.Breakers)

		case config.InterceptorRetry:
			chain.Retry = governance.NewRetryPolicy(retryConfig(cfg.Retry))
			opts := RetryOptions{}
			if m := chain.Metrics; m != nil {
				opts.OnRetry = func(inv *intercept.Invocation, _ int, _ error) { m.RecordRetry(inv) }
			}
			ic, err = Scope(Retry(chain.Retry, opts), cfg.Retry.Methods...)
			if err != nil {
				return nil, fmt.Errorf("retry: %w", err)
			}

		case config.InterceptorTimeout:
			chain.Timeouts = governance.NewTimeouts(cfg.Timeout.Default, cfg.Timeout.Methods)
			ic = Timeout(chain.Timeouts)

		default:
			return nil, fmt.Errorf("unknown interceptor %q", name)
		}

		chain.Interceptors = append(chain.Interceptors, ic)
		logger.Debug("Interceptor enabled", "name", name, "position", len(chain.Interceptors)-1)
	}

	return chain, nil
}

func buildEngine(ctx context.Context, cfg config.AuthorizeConfig, deps Deps, store storage.PolicyStore, logger *slog.Logger) (*policy.Engine, error) {
	modules, err := LoadModules(cfg.Modules, deps.Resolve)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	bundle, _, err := store.Save(ctx, PolicyBundleID, modules)
	if err != nil {
		return nil, fmt.Errorf("authorize: store modules: %w", err)
	}
	engine, err := policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint:      cfg.Entrypoint,
		Modules:         bundle.Modules,
		CacheMaxEntries: cfg.CacheEntries,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	return engine, nil
}

// LoadModules reads Rego sources keyed by file name.
func LoadModules(paths []string, resolve func(string) string) (map[string]string, error) {
	modules := make(map[string]string, len(paths))
	for _, p := range paths {
		if resolve != nil {
			p = resolve(p)
		}
		//nolint:gosec // Module paths come from operator configuration
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read rego module %s: %w", p, err)
		}
		modules[filepath.Base(p)] = string(data)
	}
	return modules, nil
}

func rateLimits(cfg config.RateLimitConfig) (map[string]governance.RateLimit, *governance.RateLimit) {
	limits := make(map[string]governance.RateLimit, len(cfg.Methods))
	for key, l := range cfg.Methods {
		limits[key] = governance.RateLimit{CallsPerSecond: l.CallsPerSecond, Burst: l.Burst}
	}
	var fallback *governance.RateLimit
	if cfg.Default != nil {
		fallback = &governance.RateLimit{CallsPerSecond: cfg.Default.CallsPerSecond, Burst: cfg.Default.Burst}
	}
	return limits, fallback
}

// breakerConfig overlays the non-zero settings on base.
func breakerConfig(base governance.BreakerConfig, s config.BreakerSettings) governance.BreakerConfig {
	bc := base
	if s.ConsecutiveFailures > 0 {
		bc.ConsecutiveFailures = s.ConsecutiveFailures
	}
	if s.FailureRate > 0 {
		bc.FailureRate = s.FailureRate
	}
	if s.MinCalls > 0 {
		bc.MinCalls = s.MinCalls
	}
	if s.Window > 0 {
		bc.Window = s.Window
	}
	if s.OpenFor > 0 {
		bc.OpenFor = s.OpenFor
	}
	if s.Probes > 0 {
		bc.Probes = s.Probes
	}
	return bc
}

func retryConfig(c config.RetryConfig) governance.RetryConfig {
	rc := governance.RetryConfig{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		Multiplier:     c.Multiplier,
		Jitter:         c.Jitter,
	}
	if rc.MaxRetries == 0 {
		rc.MaxRetries = governance.DefaultRetryConfig().MaxRetries
	}
	return rc
}
