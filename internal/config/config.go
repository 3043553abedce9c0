// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides daemon configuration.
//
// Configuration is loaded in layers: built-in defaults, then the YAML
// file (when one is given), then environment variables. Command-line
// flags are applied by the caller on top of the loaded config.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	batonerrors "github.com/tombee/baton/pkg/errors"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete Baton daemon configuration.
type Config struct {
	Worker        WorkerConfig        `yaml:"worker"`
	Retry         RetryConfig         `yaml:"retry"`
	Step          StepConfig          `yaml:"step"`
	Claim         ClaimConfig         `yaml:"claim"`
	Backend       BackendConfig       `yaml:"backend"`
	Workflows     WorkflowsConfig     `yaml:"workflows"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// WorkerConfig configures the claim/run worker pool.
type WorkerConfig struct {
	// ID identifies this worker in claim locks. Empty generates
	// hostname-pid-<uuid8> at startup.
	// Environment: BATON_WORKER_ID
	ID string `yaml:"id,omitempty"`

	// Concurrency is the maximum number of in-flight executions.
	// Environment: BATON_WORKER_CONCURRENCY
	// Default: 3
	Concurrency int `yaml:"concurrency,omitempty"`

	// PollIntervalMs is the gap between claim attempts in milliseconds.
	// Environment: BATON_POLL_INTERVAL_MS
	// Default: 1000
	PollIntervalMs int `yaml:"poll_interval_ms,omitempty"`
}

// PollInterval returns the poll interval as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// RetryConfig sets the fallback retry policy for steps that declare none.
type RetryConfig struct {
	// DefaultMaxAttempts is the attempt budget per step.
	// Default: 3
	DefaultMaxAttempts int `yaml:"default_max_attempts,omitempty"`

	// DefaultBaseDelayMs is the delay after the first failure.
	// Default: 1000
	DefaultBaseDelayMs int `yaml:"default_base_delay_ms,omitempty"`

	// DefaultMaxDelayMs caps any single delay before jitter.
	// Default: 30000
	DefaultMaxDelayMs int `yaml:"default_max_delay_ms,omitempty"`
}

// StepConfig configures step interpretation.
type StepConfig struct {
	// DefaultTimeoutMs bounds steps that omit timeout_ms.
	// Default: 60000
	DefaultTimeoutMs int `yaml:"default_timeout_ms,omitempty"`
}

// DefaultTimeout returns the step timeout as a duration.
func (s StepConfig) DefaultTimeout() time.Duration {
	return time.Duration(s.DefaultTimeoutMs) * time.Millisecond
}

// ClaimConfig configures the stale-claim sweeper.
type ClaimConfig struct {
	// StaleLockThresholdMin is the age in minutes at which a crashed
	// worker's claim is released back to pending.
	// Environment: BATON_STALE_LOCK_THRESHOLD_MIN
	// Default: 30
	StaleLockThresholdMin int `yaml:"stale_lock_threshold_min,omitempty"`
}

// StaleLockThreshold returns the threshold as a duration.
func (c ClaimConfig) StaleLockThreshold() time.Duration {
	return time.Duration(c.StaleLockThresholdMin) * time.Minute
}

// Backend type names accepted by BackendConfig.Type.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// BackendConfig selects and configures the persistent store.
type BackendConfig struct {
	// Type is the storage backend: memory, sqlite, or postgres.
	// Environment: BATON_BACKEND
	// Default: sqlite
	Type string `yaml:"type,omitempty"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite,omitempty"`

	// Postgres configures the postgres backend.
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains sqlite backend settings.
type SQLiteConfig struct {
	// Path is the database file path.
	// Environment: BATON_SQLITE_PATH
	// Default: ~/.baton/baton.db
	Path string `yaml:"path,omitempty"`
}

// PostgresConfig contains postgres backend settings.
type PostgresConfig struct {
	// URL is the connection string (postgres://...).
	// Environment: BATON_POSTGRES_URL
	URL string `yaml:"url,omitempty"`

	// MaxOpenConns limits open connections. Default: 10
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`

	// MaxIdleConns limits idle connections. Default: 5
	MaxIdleConns int `yaml:"max_idle_conns,omitempty"`

	// ConnMaxLifetimeSeconds bounds connection reuse. Default: 300
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds,omitempty"`
}

// WorkflowsConfig configures workflow definition discovery.
type WorkflowsConfig struct {
	// Dir is the directory scanned for *.yaml / *.yml definitions.
	// Environment: BATON_WORKFLOWS_DIR
	// Default: ~/.baton/workflows
	Dir string `yaml:"dir,omitempty"`

	// Watch reloads definitions when files change.
	// Default: true
	Watch *bool `yaml:"watch,omitempty"`
}

// WatchEnabled resolves the Watch tri-state, defaulting to true.
func (w WorkflowsConfig) WatchEnabled() bool {
	return w.Watch == nil || *w.Watch
}

// DaemonConfig configures the daemon's HTTP surface and lifecycle.
type DaemonConfig struct {
	// Listen configures the HTTP listener.
	Listen ListenConfig `yaml:"listen,omitempty"`

	// Auth configures API authentication.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// HTTP configures outbound requests made by http steps.
	HTTP HTTPConfig `yaml:"http,omitempty"`

	// ForceInsecure acknowledges running without auth or TLS on a
	// non-loopback address. Development only.
	// Default: false
	ForceInsecure bool `yaml:"force_insecure"`

	// ShutdownTimeout bounds graceful shutdown, including the pool drain.
	// Environment: BATON_SHUTDOWN_TIMEOUT
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// ListenConfig configures the daemon listener.
type ListenConfig struct {
	// TCPAddr is the listen address.
	// Environment: BATON_LISTEN_ADDR
	// Default: 127.0.0.1:7720
	TCPAddr string `yaml:"tcp_addr,omitempty"`

	// AllowRemote permits binding to non-loopback addresses.
	// Default: false
	AllowRemote bool `yaml:"allow_remote"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`
}

// AuthConfig configures API authentication.
//
// When APIKey and JWTSecret are both empty, the API is unauthenticated;
// validation rejects that on non-loopback listeners unless ForceInsecure
// is set.
type AuthConfig struct {
	// APIKey enables static bearer-token auth when non-empty. Supports
	// a ${secret:NAME} reference.
	// Environment: BATON_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// JWTSecret enables HS256 JWT auth when non-empty.
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	// JWTIssuer is the required iss claim. Empty skips the check.
	JWTIssuer string `yaml:"jwt_issuer,omitempty"`

	// JWTAudience is the required aud claim. Empty skips the check.
	JWTAudience string `yaml:"jwt_audience,omitempty"`

	// RateLimitRPS is the per-client request rate. Zero disables limiting.
	// Default: 0
	RateLimitRPS float64 `yaml:"rate_limit_rps,omitempty"`

	// RateLimitBurst is the per-client burst size. Default: 2*RPS
	RateLimitBurst int `yaml:"rate_limit_burst,omitempty"`
}

// HTTPConfig configures outbound http-step requests.
type HTTPConfig struct {
	// TimeoutMs bounds each outbound request. Default: 30000
	TimeoutMs int `yaml:"timeout_ms,omitempty"`

	// RateRPS caps outbound requests per second across all steps.
	// Zero disables limiting.
	RateRPS float64 `yaml:"rate_rps,omitempty"`

	// RateBurst is the outbound burst size.
	RateBurst int `yaml:"rate_burst,omitempty"`

	// TLSInsecure disables certificate validation. Development only.
	TLSInsecure bool `yaml:"tls_insecure"`

	// Policy restricts which hosts steps may contact.
	Policy PolicyConfig `yaml:"policy,omitempty"`
}

// Timeout returns the outbound request timeout as a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// PolicyConfig lists outbound host patterns.
type PolicyConfig struct {
	// Allow lists permitted hosts (exact, *.wildcard, or CIDR).
	// Empty allows everything not blocked.
	Allow []string `yaml:"allow,omitempty"`

	// Block lists denied hosts, applied on top of the built-in
	// metadata-endpoint and private-range blocks.
	Block []string `yaml:"block,omitempty"`
}

// SecretsConfig selects secret backends for ${secret:NAME} resolution.
type SecretsConfig struct {
	// Backends are enabled in the listed order: env, keychain, file.
	// Default: [env]
	Backends []string `yaml:"backends,omitempty"`

	// FilePath overrides the encrypted file backend location.
	// Default: ~/.baton/secrets.enc
	FilePath string `yaml:"file_path,omitempty"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	// Tracing configures the OTLP trace exporter.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Metrics exposes /metrics when enabled.
	// Default: true
	Metrics *bool `yaml:"metrics,omitempty"`
}

// MetricsEnabled resolves the Metrics tri-state, defaulting to true.
func (o ObservabilityConfig) MetricsEnabled() bool {
	return o.Metrics == nil || *o.Metrics
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Exporter is one of otlp-grpc, otlp-http, stdout, none.
	// Environment: BATON_TRACE_EXPORTER
	// Default: none
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the collector address for the otlp exporters.
	// Environment: BATON_OTLP_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// SampleRatio is the parent-based trace sampling ratio in [0,1].
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `yaml:"insecure"`

	// Headers are added to exporter requests (auth tokens etc).
	Headers map[string]string `yaml:"headers,omitempty"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Level is trace, debug, info, warn, or error.
	// Environment: BATON_LOG_LEVEL, LOG_LEVEL
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	// Environment: LOG_FORMAT
	// Default: text
	Format string `yaml:"format,omitempty"`

	// AddSource includes file:line in log records.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the optional file path, applies defaults
// and environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &batonerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &batonerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills zero values so minimal configs work.
func (c *Config) applyDefaults() {
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 3
	}
	if c.Worker.PollIntervalMs == 0 {
		c.Worker.PollIntervalMs = 1000
	}
	if c.Retry.DefaultMaxAttempts == 0 {
		c.Retry.DefaultMaxAttempts = 3
	}
	if c.Retry.DefaultBaseDelayMs == 0 {
		c.Retry.DefaultBaseDelayMs = 1000
	}
	if c.Retry.DefaultMaxDelayMs == 0 {
		c.Retry.DefaultMaxDelayMs = 30000
	}
	if c.Step.DefaultTimeoutMs == 0 {
		c.Step.DefaultTimeoutMs = 60000
	}
	if c.Claim.StaleLockThresholdMin == 0 {
		c.Claim.StaleLockThresholdMin = 30
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "sqlite"
	}
	if c.Backend.SQLite.Path == "" {
		c.Backend.SQLite.Path = defaultPath("baton.db")
	}
	if c.Backend.Postgres.MaxOpenConns == 0 {
		c.Backend.Postgres.MaxOpenConns = 10
	}
	if c.Backend.Postgres.MaxIdleConns == 0 {
		c.Backend.Postgres.MaxIdleConns = 5
	}
	if c.Backend.Postgres.ConnMaxLifetimeSeconds == 0 {
		c.Backend.Postgres.ConnMaxLifetimeSeconds = 300
	}
	if c.Workflows.Dir == "" {
		c.Workflows.Dir = defaultPath("workflows")
	}
	if c.Workflows.Watch == nil {
		watch := true
		c.Workflows.Watch = &watch
	}
	if c.Daemon.Listen.TCPAddr == "" {
		c.Daemon.Listen.TCPAddr = "127.0.0.1:7720"
	}
	if c.Daemon.ShutdownTimeout == 0 {
		c.Daemon.ShutdownTimeout = 30 * time.Second
	}
	if c.Daemon.Auth.RateLimitRPS > 0 && c.Daemon.Auth.RateLimitBurst == 0 {
		c.Daemon.Auth.RateLimitBurst = int(2 * c.Daemon.Auth.RateLimitRPS)
	}
	if c.Daemon.HTTP.TimeoutMs == 0 {
		c.Daemon.HTTP.TimeoutMs = 30000
	}
	if len(c.Secrets.Backends) == 0 {
		c.Secrets.Backends = []string{"env"}
	}
	if c.Secrets.FilePath == "" {
		c.Secrets.FilePath = defaultPath("secrets.enc")
	}
	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = "none"
	}
	if c.Observability.Tracing.SampleRatio == 0 {
		c.Observability.Tracing.SampleRatio = 1.0
	}
	if c.Observability.Metrics == nil {
		enabled := true
		c.Observability.Metrics = &enabled
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// loadFromFile merges the YAML file at path into the config.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv overrides configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("BATON_WORKER_ID"); val != "" {
		c.Worker.ID = val
	}
	if val := os.Getenv("BATON_WORKER_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Worker.Concurrency = n
		}
	}
	if val := os.Getenv("BATON_POLL_INTERVAL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Worker.PollIntervalMs = n
		}
	}
	if val := os.Getenv("BATON_STALE_LOCK_THRESHOLD_MIN"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Claim.StaleLockThresholdMin = n
		}
	}
	if val := os.Getenv("BATON_BACKEND"); val != "" {
		c.Backend.Type = strings.ToLower(val)
	}
	if val := os.Getenv("BATON_SQLITE_PATH"); val != "" {
		c.Backend.SQLite.Path = val
	}
	if val := os.Getenv("BATON_POSTGRES_URL"); val != "" {
		c.Backend.Postgres.URL = val
	}
	if val := os.Getenv("BATON_WORKFLOWS_DIR"); val != "" {
		c.Workflows.Dir = val
	}
	if val := os.Getenv("BATON_LISTEN_ADDR"); val != "" {
		c.Daemon.Listen.TCPAddr = val
	}
	if val := os.Getenv("BATON_API_KEY"); val != "" {
		c.Daemon.Auth.APIKey = val
	}
	if val := os.Getenv("BATON_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Daemon.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("BATON_TRACE_EXPORTER"); val != "" {
		c.Observability.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("BATON_OTLP_ENDPOINT"); val != "" {
		c.Observability.Tracing.Endpoint = val
	}
	if val := os.Getenv("BATON_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	} else if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.EqualFold(val, "true")
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("%w: worker.concurrency must be >= 1", ErrInvalidConfig)
	}
	if c.Worker.PollIntervalMs < 1 {
		return fmt.Errorf("%w: worker.poll_interval_ms must be >= 1", ErrInvalidConfig)
	}
	if c.Retry.DefaultMaxAttempts < 1 {
		return fmt.Errorf("%w: retry.default_max_attempts must be >= 1", ErrInvalidConfig)
	}
	if c.Retry.DefaultBaseDelayMs < 1 || c.Retry.DefaultMaxDelayMs < 1 {
		return fmt.Errorf("%w: retry delays must be >= 1ms", ErrInvalidConfig)
	}
	if c.Retry.DefaultMaxDelayMs < c.Retry.DefaultBaseDelayMs {
		return fmt.Errorf("%w: retry.default_max_delay_ms must be >= retry.default_base_delay_ms", ErrInvalidConfig)
	}
	if c.Step.DefaultTimeoutMs < 1 {
		return fmt.Errorf("%w: step.default_timeout_ms must be >= 1", ErrInvalidConfig)
	}
	if c.Claim.StaleLockThresholdMin < 1 {
		return fmt.Errorf("%w: claim.stale_lock_threshold_min must be >= 1", ErrInvalidConfig)
	}

	switch c.Backend.Type {
	case "memory":
	case "sqlite":
		if c.Backend.SQLite.Path == "" {
			return fmt.Errorf("%w: backend.sqlite.path is required", ErrInvalidConfig)
		}
	case "postgres":
		if c.Backend.Postgres.URL == "" {
			return fmt.Errorf("%w: backend.postgres.url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: backend.type must be memory, sqlite, or postgres (got %q)", ErrInvalidConfig, c.Backend.Type)
	}

	if err := c.validateListen(); err != nil {
		return err
	}

	if (c.Daemon.Listen.TLSCert == "") != (c.Daemon.Listen.TLSKey == "") {
		return fmt.Errorf("%w: daemon.listen.tls_cert and tls_key must be set together", ErrInvalidConfig)
	}

	for _, b := range c.Secrets.Backends {
		switch b {
		case "env", "keychain", "file":
		default:
			return fmt.Errorf("%w: unknown secrets backend %q", ErrInvalidConfig, b)
		}
	}

	switch c.Observability.Tracing.Exporter {
	case "none", "stdout":
	case "otlp-grpc", "otlp-http":
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("%w: observability.tracing.endpoint is required for %s", ErrInvalidConfig, c.Observability.Tracing.Exporter)
		}
	default:
		return fmt.Errorf("%w: observability.tracing.exporter must be otlp-grpc, otlp-http, stdout, or none", ErrInvalidConfig)
	}
	if r := c.Observability.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: observability.tracing.sample_ratio must be in [0,1]", ErrInvalidConfig)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json", ErrInvalidConfig)
	}

	return nil
}

// validateListen enforces the remote-binding and auth guards.
func (c *Config) validateListen() error {
	host, _, err := net.SplitHostPort(c.Daemon.Listen.TCPAddr)
	if err != nil {
		return fmt.Errorf("%w: daemon.listen.tcp_addr %q is not host:port", ErrInvalidConfig, c.Daemon.Listen.TCPAddr)
	}

	loopback := host == "localhost"
	if ip := net.ParseIP(host); ip != nil {
		loopback = ip.IsLoopback()
	}
	if loopback {
		return nil
	}

	if !c.Daemon.Listen.AllowRemote {
		return fmt.Errorf("%w: daemon.listen.tcp_addr binds %s; set daemon.listen.allow_remote to confirm", ErrInvalidConfig, host)
	}
	authed := c.Daemon.Auth.APIKey != "" || c.Daemon.Auth.JWTSecret != ""
	secured := c.Daemon.Listen.TLSCert != ""
	if (!authed || !secured) && !c.Daemon.ForceInsecure {
		return fmt.Errorf("%w: remote listener requires auth and TLS; set daemon.force_insecure to override", ErrInvalidConfig)
	}
	return nil
}

// defaultPath returns ~/.baton/<name>, falling back to the relative name
// when the home directory cannot be determined.
func defaultPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return home + "/.baton/" + name
}
