// Package config provides configuration structures and loading logic for
// interpose binaries: logging, telemetry, the interceptor chain and the
// proxygen targets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interceptor names accepted in InterceptorsConfig.Order.
const (
	InterceptorLogging        = "logging"
	InterceptorTracing        = "tracing"
	InterceptorMetrics        = "metrics"
	InterceptorAuthorize      = "authorize"
	InterceptorRateLimit      = "rate_limit"
	InterceptorCircuitBreaker = "circuit_breaker"
	InterceptorRetry          = "retry"
	InterceptorTimeout        = "timeout"
)

// DefaultOrder is the chain order used when none is configured. Outer
// interceptors come first.
var DefaultOrder = []string{
	InterceptorLogging,
	InterceptorTracing,
	InterceptorMetrics,
	InterceptorAuthorize,
	InterceptorRateLimit,
	InterceptorCircuitBreaker,
	InterceptorRetry,
	InterceptorTimeout,
}

// Config holds the global configuration.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Interceptors InterceptorsConfig `yaml:"interceptors"`
	Generate     []GenerateConfig   `yaml:"generate"`

	// path is the file the configuration was read from, if any.
	path string
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string            `yaml:"service_name"`
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Redactions   []RedactionConfig `yaml:"redactions,omitempty"`
}

// RedactionConfig names an exported call attribute and how it is hidden.
type RedactionConfig struct {
	Attribute string `yaml:"attribute"`
	Strategy  string `yaml:"strategy"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// InterceptorsConfig describes the interceptor chain assembled for each proxy.
type InterceptorsConfig struct {
	// Order lists interceptor names outermost first. Empty means DefaultOrder.
	Order []string `yaml:"order,omitempty"`

	Logging        LoggingInterceptorConfig `yaml:"logging"`
	Tracing        TracingInterceptorConfig `yaml:"tracing"`
	Metrics        MetricsInterceptorConfig `yaml:"metrics"`
	Authorize      AuthorizeConfig          `yaml:"authorize"`
	RateLimit      RateLimitConfig          `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig     `yaml:"circuit_breaker"`
	Retry          RetryConfig              `yaml:"retry"`
	Timeout        TimeoutConfig            `yaml:"timeout"`
}

// LoggingInterceptorConfig configures call logging.
type LoggingInterceptorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	// Arguments adds argument values to the call records.
	Arguments bool `yaml:"arguments"`
}

// TracingInterceptorConfig configures call spans.
type TracingInterceptorConfig struct {
	Enabled bool `yaml:"enabled"`
	// Arguments records argument values as span attributes, subject to
	// telemetry redactions.
	Arguments bool `yaml:"arguments"`
}

// MetricsInterceptorConfig configures Prometheus call metrics.
type MetricsInterceptorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// AuthorizeConfig configures OPA call authorization.
type AuthorizeConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Entrypoint string   `yaml:"entrypoint"`
	Modules    []string `yaml:"modules"`
	// CacheEntries bounds the decision cache. Zero selects the engine
	// default and a negative value disables caching.
	CacheEntries int `yaml:"cache_entries"`
	// FailOpen lets calls through when evaluation fails.
	FailOpen bool `yaml:"fail_open"`
}

// Limit is a token bucket configuration.
type Limit struct {
	CallsPerSecond float64 `yaml:"calls_per_second"`
	Burst          int     `yaml:"burst"`
}

// RateLimitConfig configures per-method token buckets. Methods are keyed
// "Contract.Method", e.g. "OrderService.PlaceOrder".
type RateLimitConfig struct {
	Enabled bool             `yaml:"enabled"`
	Default *Limit           `yaml:"default,omitempty"`
	Methods map[string]Limit `yaml:"methods,omitempty"`
}

// BreakerSettings tunes a circuit breaker.
type BreakerSettings struct {
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
	FailureRate         float64       `yaml:"failure_rate"`
	MinCalls            int           `yaml:"min_calls"`
	Window              time.Duration `yaml:"window"`
	OpenFor             time.Duration `yaml:"open_for"`
	Probes              int           `yaml:"probes"`
}

// CircuitBreakerConfig configures per-method circuit breakers.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	BreakerSettings `yaml:",inline"`

	Methods map[string]BreakerSettings `yaml:"methods,omitempty"`
}

// RetryConfig configures call replay after failures.
type RetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         bool          `yaml:"jitter"`
	// Methods restricts retries to these method patterns. Empty means all.
	Methods []string `yaml:"methods,omitempty"`
}

// TimeoutConfig configures deadlines for context-first methods.
type TimeoutConfig struct {
	Enabled bool                     `yaml:"enabled"`
	Default time.Duration            `yaml:"default"`
	Methods map[string]time.Duration `yaml:"methods,omitempty"`
}

// GenerateConfig names one package whose contracts proxygen emits stubs for.
type GenerateConfig struct {
	Package string `yaml:"package"`
	// Types are the contract names. "Name+Other" generates a stub of Name
	// that also implements Other.
	Types []string `yaml:"types"`
	// Interfaces add a second stub implementing them to every non-generic type.
	Interfaces []string `yaml:"interfaces,omitempty"`
	Output     string   `yaml:"output"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{ServiceName: "interpose"},
		Metrics:   MetricsConfig{Path: "/metrics"},
		Interceptors: InterceptorsConfig{
			Logging: LoggingInterceptorConfig{Enabled: true, Level: "info"},
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.path = path
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Resolve interprets p relative to the configuration file's directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("INTERPOSE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("INTERPOSE_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("INTERPOSE_SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}
	if val := os.Getenv("INTERPOSE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("INTERPOSE_OTLP_INSECURE"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("INTERPOSE_OTLP_INSECURE: %w", err)
		}
		cfg.Telemetry.Insecure = b
	}

	if val := os.Getenv("INTERPOSE_METRICS_ADDR"); val != "" {
		cfg.Metrics.Address = val
	}

	if val := os.Getenv("INTERPOSE_AUTHZ_ENTRYPOINT"); val != "" {
		cfg.Interceptors.Authorize.Entrypoint = val
	}

	// Comma-separated interceptor names, e.g. "retry,timeout".
	if val := os.Getenv("INTERPOSE_DISABLE_INTERCEPTORS"); val != "" {
		for _, name := range strings.Split(val, ",") {
			if err := cfg.Interceptors.setEnabled(strings.TrimSpace(name), false); err != nil {
				return fmt.Errorf("INTERPOSE_DISABLE_INTERCEPTORS: %w", err)
			}
		}
	}
	return nil
}

func (c *InterceptorsConfig) setEnabled(name string, enabled bool) error {
	switch name {
	case InterceptorLogging:
		c.Logging.Enabled = enabled
	case InterceptorTracing:
		c.Tracing.Enabled = enabled
	case InterceptorMetrics:
		c.Metrics.Enabled = enabled
	case InterceptorAuthorize:
		c.Authorize.Enabled = enabled
	case InterceptorRateLimit:
		c.RateLimit.Enabled = enabled
	case InterceptorCircuitBreaker:
		c.CircuitBreaker.Enabled = enabled
	case InterceptorRetry:
		c.Retry.Enabled = enabled
	case InterceptorTimeout:
		c.Timeout.Enabled = enabled
	default:
		return fmt.Errorf("unknown interceptor %q", name)
	}
	return nil
}

// Enabled reports whether the named interceptor is switched on.
func (c InterceptorsConfig) Enabled(name string) bool {
	switch name {
	case InterceptorLogging:
		return c.Logging.Enabled
	case InterceptorTracing:
		return c.Tracing.Enabled
	case InterceptorMetrics:
		return c.Metrics.Enabled
	case InterceptorAuthorize:
		return c.Authorize.Enabled
	case InterceptorRateLimit:
		return c.RateLimit.Enabled
	case InterceptorCircuitBreaker:
		return c.CircuitBreaker.Enabled
	case InterceptorRetry:
		return c.Retry.Enabled
	case InterceptorTimeout:
		return c.Timeout.Enabled
	default:
		return false
	}
}

// ChainOrder returns the configured order, or DefaultOrder.
func (c InterceptorsConfig) ChainOrder() []string {
	if len(c.Order) == 0 {
		return slices.Clone(DefaultOrder)
	}
	return slices.Clone(c.Order)
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration: %w", err)
	}
	if err := c.Interceptors.Validate(); err != nil {
		return fmt.Errorf("interceptors configuration: %w", err)
	}
	for i := range c.Generate {
		if err := c.Generate[i].Validate(); err != nil {
			return fmt.Errorf("generate entry %d: %w", i, err)
		}
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	return nil
}

// Validate performs validation of telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "interpose"
	}
	for i, r := range c.Redactions {
		if strings.TrimSpace(r.Attribute) == "" {
			return fmt.Errorf("redaction %d: attribute is required", i)
		}
		switch strings.ToLower(strings.TrimSpace(r.Strategy)) {
		case "", "drop", "mask", "hash", "replace", "redact":
		default:
			return fmt.Errorf("redaction %d: unknown strategy %q", i, r.Strategy)
		}
	}
	return nil
}

// Validate performs validation of the metrics endpoint.
func (c *MetricsConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = "/metrics"
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("metrics path %q must start with /", c.Path)
	}
	return nil
}

// Validate checks the interceptor chain configuration.
func (c *InterceptorsConfig) Validate() error {
	seen := make(map[string]bool, len(c.Order))
	for _, name := range c.Order {
		if !slices.Contains(DefaultOrder, name) {
			return fmt.Errorf("unknown interceptor %q in order", name)
		}
		if seen[name] {
			return fmt.Errorf("interceptor %q listed twice in order", name)
		}
		seen[name] = true
	}

	if c.Authorize.Enabled && len(c.Authorize.Modules) == 0 {
		return errors.New("authorize: at least one rego module is required")
	}

	if c.RateLimit.Default != nil {
		if err := c.RateLimit.Default.Validate(); err != nil {
			return fmt.Errorf("rate_limit default: %w", err)
		}
	}
	for key, l := range c.RateLimit.Methods {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("rate_limit %s: %w", key, err)
		}
	}

	if err := c.CircuitBreaker.BreakerSettings.Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}
	for key, s := range c.CircuitBreaker.Methods {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("circuit_breaker %s: %w", key, err)
		}
	}

	if c.Retry.MaxRetries < 0 {
		return errors.New("retry: max_retries must not be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return errors.New("retry: multiplier must be at least 1")
	}

	if c.Timeout.Default < 0 {
		return errors.New("timeout: default must not be negative")
	}
	return nil
}

// Validate checks a token bucket configuration.
func (l Limit) Validate() error {
	if l.CallsPerSecond < 0 {
		return errors.New("calls_per_second must not be negative")
	}
	if l.Burst < 0 {
		return errors.New("burst must not be negative")
	}
	return nil
}

// Validate checks breaker settings.
func (s BreakerSettings) Validate() error {
	if s.FailureRate < 0 || s.FailureRate > 100 {
		return fmt.Errorf("failure_rate %v must be between 0 and 100", s.FailureRate)
	}
	if s.ConsecutiveFailures < 0 || s.MinCalls < 0 || s.Probes < 0 {
		return errors.New("counts must not be negative")
	}
	return nil
}

// Validate checks a proxygen target.
func (g *GenerateConfig) Validate() error {
	if strings.TrimSpace(g.Package) == "" {
		return errors.New("package is required")
	}
	if len(g.Types) == 0 {
		return errors.New("at least one type is required")
	}
	if strings.TrimSpace(g.Output) == "" {
		g.Output = "proxies_gen.go"
	}
	return nil
}
