// Package config handles loading and validating Kazi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Kazi.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.kazi/workspace. Override: KAZI_WORKSPACE env var.
	Backend       BackendConfig        `json:"backend" yaml:"backend"`
	Execution     ExecutionConfig      `json:"execution" yaml:"execution"`
	Workflows     *WorkflowsConfig     `json:"workflows,omitempty" yaml:"workflows,omitempty"`         // nil = embedded workflow manifest
	Safety        *SafetyConfig        `json:"safety,omitempty" yaml:"safety,omitempty"`               // nil = built-in safety policy
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = run-dir sweeper disabled
}

// BackendConfig points Kazi at the Zoekt search backend.
// The URL is the only required setting in the whole configuration.
type BackendConfig struct {
	URL            string `json:"url" yaml:"url"`                         // Zoekt base URL, e.g. "http://localhost:6070". Override: ZOEKT_API_URL env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-request timeout. Default: 15.
}

// BaseURL returns the backend URL without a trailing slash.
func (b *BackendConfig) BaseURL() string {
	return strings.TrimRight(b.URL, "/")
}

// Timeout returns the per-request backend timeout with a default of 15s.
func (b *BackendConfig) Timeout() time.Duration {
	if b != nil && b.TimeoutSeconds > 0 {
		return time.Duration(b.TimeoutSeconds) * time.Second
	}
	return 15 * time.Second
}

// ExecutionConfig bounds workflow script execution.
// Zero values fall back to defaults; negative values are rejected at load time.
type ExecutionConfig struct {
	TimeoutDefaultSeconds int    `json:"timeout_default_seconds" yaml:"timeout_default_seconds"` // Default: 30. Override: EXECUTION_TIMEOUT_DEFAULT env var.
	TimeoutMaxSeconds     int    `json:"timeout_max_seconds" yaml:"timeout_max_seconds"`         // Default: 120. Override: EXECUTION_TIMEOUT_MAX env var.
	StdoutMaxBytes        int    `json:"stdout_max_bytes" yaml:"stdout_max_bytes"`               // Default: 32768. Override: EXECUTION_STDOUT_MAX_BYTES env var.
	StderrMaxBytes        int    `json:"stderr_max_bytes" yaml:"stderr_max_bytes"`               // Default: 32768. Override: EXECUTION_STDERR_MAX_BYTES env var.
	RunnerPath            string `json:"runner_path,omitempty" yaml:"runner_path,omitempty"`     // Path to the kazi-runner binary. Default: sibling of the gateway binary, then $PATH. Override: KAZI_RUNNER env var.
}

// TimeoutDefault returns the default script timeout with a default of 30s.
func (e ExecutionConfig) TimeoutDefault() time.Duration {
	if e.TimeoutDefaultSeconds > 0 {
		return time.Duration(e.TimeoutDefaultSeconds) * time.Second
	}
	return 30 * time.Second
}

// TimeoutMax returns the timeout ceiling with a default of 120s.
func (e ExecutionConfig) TimeoutMax() time.Duration {
	if e.TimeoutMaxSeconds > 0 {
		return time.Duration(e.TimeoutMaxSeconds) * time.Second
	}
	return 120 * time.Second
}

// StdoutCap returns the stdout capture cap with a default of 32768 bytes.
func (e ExecutionConfig) StdoutCap() int {
	if e.StdoutMaxBytes > 0 {
		return e.StdoutMaxBytes
	}
	return 32768
}

// StderrCap returns the stderr capture cap with a default of 32768 bytes.
func (e ExecutionConfig) StderrCap() int {
	if e.StderrMaxBytes > 0 {
		return e.StderrMaxBytes
	}
	return 32768
}

// WorkflowsConfig overrides where workflow definitions come from.
// When nil, the manifest embedded in the binary is used.
type WorkflowsConfig struct {
	ManifestPath string `json:"manifest_path" yaml:"manifest_path"` // Path to a workflow manifest YAML file.
	ScriptsDir   string `json:"scripts_dir" yaml:"scripts_dir"`     // Directory holding workflow scripts referenced by the manifest.
}

// SafetyConfig overrides the static safety policy for custom workflow code.
// Empty lists keep the built-in defaults.
type SafetyConfig struct {
	AllowedImports []string `json:"allowed_imports" yaml:"allowed_imports"` // Module names require() may load.
	DeniedCalls    []string `json:"denied_calls" yaml:"denied_calls"`       // Callable names scripts may not invoke.
}

// GatewaysConfig defines the listening surfaces.
// Nil pointers use defaults: the MCP gateway and the ops server are always started.
type GatewaysConfig struct {
	MCP *MCPGatewayConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"`
	Ops *OpsGatewayConfig `json:"ops,omitempty" yaml:"ops,omitempty"`
}

// MCPGatewayConfig configures the MCP transports.
type MCPGatewayConfig struct {
	Host               string          `json:"host" yaml:"host"`                                 // Bind host. Default: "0.0.0.0".
	StreamableHTTPPort int             `json:"streamable_http_port" yaml:"streamable_http_port"` // Default: 8080. Override: MCP_STREAMABLE_HTTP_PORT env var.
	SSEPort            int             `json:"sse_port" yaml:"sse_port"`                         // Default: 8000. Override: MCP_SSE_PORT env var.
	RateLimit          RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// BindHost returns the bind host with a default of "0.0.0.0".
func (m *MCPGatewayConfig) BindHost() string {
	if m != nil && m.Host != "" {
		return m.Host
	}
	return "0.0.0.0"
}

// StreamableAddr returns the streamable HTTP listen address with a default port of 8080.
func (m *MCPGatewayConfig) StreamableAddr() string {
	port := 8080
	if m != nil && m.StreamableHTTPPort > 0 {
		port = m.StreamableHTTPPort
	}
	return fmt.Sprintf("%s:%d", m.BindHost(), port)
}

// SSEAddr returns the SSE listen address with a default port of 8000.
func (m *MCPGatewayConfig) SSEAddr() string {
	port := 8000
	if m != nil && m.SSEPort > 0 {
		port = m.SSEPort
	}
	return fmt.Sprintf("%s:%d", m.BindHost(), port)
}

// Limits returns the rate limit settings, zero-valued (unlimited) when the section is absent.
func (m *MCPGatewayConfig) Limits() RateLimitConfig {
	if m != nil {
		return m.RateLimit
	}
	return RateLimitConfig{}
}

// OpsGatewayConfig configures the operational HTTP server (health, readiness, metrics).
type OpsGatewayConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":9090". Override: KAZI_OPS_PORT env var (port only).
}

// Addr returns the ops listen address with a default of ":9090".
func (o *OpsGatewayConfig) Addr() string {
	if o != nil && o.ListenAddr != "" {
		return o.ListenAddr
	}
	return ":9090"
}

// RateLimitConfig configures per-tool rate limiting for the MCP gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// JanitorConfig configures the orphaned run directory sweeper.
// When nil, no sweeping is performed; run directories are still removed
// after every execution, the sweeper only catches crash leftovers.
type JanitorConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Schedule      string `json:"schedule" yaml:"schedule"`               // Cron expression. Default: "*/10 * * * *".
	MaxAgeSeconds int    `json:"max_age_seconds" yaml:"max_age_seconds"` // Run dirs older than this are removed. Default: 3600.
}

// CronSchedule returns the sweep schedule with a default of every 10 minutes.
func (j *JanitorConfig) CronSchedule() string {
	if j != nil && j.Schedule != "" {
		return j.Schedule
	}
	return "*/10 * * * *"
}

// MaxAge returns the orphan age threshold with a default of 1h.
func (j *JanitorConfig) MaxAge() time.Duration {
	if j != nil && j.MaxAgeSeconds > 0 {
		return time.Duration(j.MaxAgeSeconds) * time.Second
	}
	return time.Hour
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kazi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeBackend bool `json:"include_backend" yaml:"include_backend"` // Probe the Zoekt backend on /readyz.
}

// AnomalyConfig configures threshold-based workflow failure detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% failures
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// DefaultConfigPath returns the default config file path (~/.kazi/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kazi.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kazi", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// A missing file is not an error: Kazi runs from environment variables alone,
// the backend URL being the only required setting. Environment variables take
// precedence over file values.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	var cfg Config
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	case os.IsNotExist(err):
		// Environment-only operation.
	default:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	// Environment variable overrides — env vars take precedence over config values.
	if envURL := os.Getenv("ZOEKT_API_URL"); envURL != "" {
		cfg.Backend.URL = envURL
	}
	if envWS := os.Getenv("KAZI_WORKSPACE"); envWS != "" {
		cfg.Workspace = envWS
	}
	if envRunner := os.Getenv("KAZI_RUNNER"); envRunner != "" {
		cfg.Execution.RunnerPath = envRunner
	}

	if err := overrideInt("EXECUTION_TIMEOUT_DEFAULT", &cfg.Execution.TimeoutDefaultSeconds); err != nil {
		return nil, err
	}
	if err := overrideInt("EXECUTION_TIMEOUT_MAX", &cfg.Execution.TimeoutMaxSeconds); err != nil {
		return nil, err
	}
	if err := overrideInt("EXECUTION_STDOUT_MAX_BYTES", &cfg.Execution.StdoutMaxBytes); err != nil {
		return nil, err
	}
	if err := overrideInt("EXECUTION_STDERR_MAX_BYTES", &cfg.Execution.StderrMaxBytes); err != nil {
		return nil, err
	}

	if raw := os.Getenv("MCP_STREAMABLE_HTTP_PORT"); raw != "" {
		if cfg.Gateways.MCP == nil {
			cfg.Gateways.MCP = &MCPGatewayConfig{}
		}
		if err := overrideInt("MCP_STREAMABLE_HTTP_PORT", &cfg.Gateways.MCP.StreamableHTTPPort); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("MCP_SSE_PORT"); raw != "" {
		if cfg.Gateways.MCP == nil {
			cfg.Gateways.MCP = &MCPGatewayConfig{}
		}
		if err := overrideInt("MCP_SSE_PORT", &cfg.Gateways.MCP.SSEPort); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("KAZI_OPS_PORT"); raw != "" {
		port := 0
		if err := overrideInt("KAZI_OPS_PORT", &port); err != nil {
			return nil, err
		}
		if cfg.Gateways.Ops == nil {
			cfg.Gateways.Ops = &OpsGatewayConfig{}
		}
		cfg.Gateways.Ops.ListenAddr = fmt.Sprintf(":%d", port)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// overrideInt applies an environment variable to dst when set.
// The variable must parse as a positive integer; anything else fails the load.
func overrideInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("environment variable %s: %q is not an integer", key, raw)
	}
	if n <= 0 {
		return fmt.Errorf("environment variable %s must be a positive integer, got %d", key, n)
	}
	*dst = n
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required (set ZOEKT_API_URL env var)")
	}
	if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return fmt.Errorf("backend.url %q must start with http:// or https://", c.Backend.URL)
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must not be negative")
	}
	if c.Execution.TimeoutDefaultSeconds < 0 {
		return fmt.Errorf("execution.timeout_default_seconds must be positive")
	}
	if c.Execution.TimeoutMaxSeconds < 0 {
		return fmt.Errorf("execution.timeout_max_seconds must be positive")
	}
	if c.Execution.StdoutMaxBytes < 0 {
		return fmt.Errorf("execution.stdout_max_bytes must be positive")
	}
	if c.Execution.StderrMaxBytes < 0 {
		return fmt.Errorf("execution.stderr_max_bytes must be positive")
	}
	if c.Execution.TimeoutDefault() > c.Execution.TimeoutMax() {
		return fmt.Errorf("execution.timeout_default_seconds %d exceeds execution.timeout_max_seconds %d",
			c.Execution.TimeoutDefaultSeconds, c.Execution.TimeoutMaxSeconds)
	}
	if m := c.Gateways.MCP; m != nil {
		if m.StreamableHTTPPort < 0 || m.StreamableHTTPPort > 65535 {
			return fmt.Errorf("gateways.mcp.streamable_http_port must be between 1 and 65535")
		}
		if m.SSEPort < 0 || m.SSEPort > 65535 {
			return fmt.Errorf("gateways.mcp.sse_port must be between 1 and 65535")
		}
		if m.StreamableHTTPPort != 0 && m.StreamableHTTPPort == m.SSEPort {
			return fmt.Errorf("gateways.mcp: streamable_http_port and sse_port must differ")
		}
		if m.RateLimit.RequestsPerMinute < 0 {
			return fmt.Errorf("gateways.mcp.rate_limit.requests_per_minute must not be negative")
		}
	}
	if w := c.Workflows; w != nil && w.ManifestPath == "" {
		return fmt.Errorf("workflows.manifest_path is required when the workflows section is present")
	}
	if j := c.Janitor; j != nil && j.MaxAgeSeconds < 0 {
		return fmt.Errorf("janitor.max_age_seconds must not be negative")
	}
	return nil
}
