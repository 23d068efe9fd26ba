package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"polyglot-sandbox/internal/normalize"
	"polyglot-sandbox/internal/policy"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Executor ExecutorConfig          `yaml:"executor"`
	Policies map[string]PolicyConfig `yaml:"policies"`
	Retry    RetryConfig             `yaml:"retry"`
	Analyzer AnalyzerConfig          `yaml:"analyzer"`
	Database DatabaseConfig          `yaml:"database"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Tracing  TracingConfig           `yaml:"tracing"`
	Security SecurityConfig          `yaml:"security"`
	TLS      TLSConfig               `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// ExecutorConfig tunes the execution controller.
type ExecutorConfig struct {
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	DefaultPriority  int           `yaml:"default_priority"`
}

// PolicyConfig overrides fields of one language's built-in security policy.
// Zero-valued fields keep the built-in default.
type PolicyConfig struct {
	BlockedPatterns   []string      `yaml:"blocked_patterns"`
	MaxExecutionTime  time.Duration `yaml:"max_execution_time"`
	MaxMemoryMB       int64         `yaml:"max_memory_mb"`
	MaxCodeBytes      int64         `yaml:"max_code_bytes"`
	MaxOutputBytes    int64         `yaml:"max_output_bytes"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	AllowNetwork      bool          `yaml:"allow_network"`
	AllowFileAccess   bool          `yaml:"allow_file_access"`
	AllowLocalStorage bool          `yaml:"allow_local_storage"`
}

// RetryConfig controls backoff for retryable failure classes.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// AnalyzerConfig tunes the static threat analyzer.
type AnalyzerConfig struct {
	ViolationLogSize int `yaml:"violation_log_size"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > max lua timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Executor: ExecutorConfig{
			DispatchInterval: 50 * time.Millisecond,
			DefaultPriority:  0,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			ViolationLogSize: 1000,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Executor.DispatchInterval < time.Millisecond {
		return fmt.Errorf("executor.dispatch_interval must be >= 1ms")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.base_delay (%s) must be <= max_delay (%s)",
			c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.Analyzer.ViolationLogSize < 1 {
		return fmt.Errorf("analyzer.violation_log_size must be >= 1")
	}
	for name := range c.Policies {
		if _, err := policy.Parse(name); err != nil {
			return fmt.Errorf("policies: %w", err)
		}
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable: connections to Postgres are unencrypted")
	}
	return nil
}

// PolicyOverrides materializes the configured per-language overrides on top
// of the built-in defaults. Non-zero fields replace the default value; zero
// fields keep it.
func (c *Config) PolicyOverrides() map[policy.Language]policy.SecurityPolicy {
	if len(c.Policies) == 0 {
		return nil
	}

	defaults := policy.NewStore(nil)
	overrides := make(map[policy.Language]policy.SecurityPolicy, len(c.Policies))
	for name, pc := range c.Policies {
		lang, err := policy.Parse(name)
		if err != nil {
			continue // Validate already rejected unknown names
		}
		p := defaults.Get(lang)
		if len(pc.BlockedPatterns) > 0 {
			p.BlockedPatterns = pc.BlockedPatterns
		}
		if pc.MaxExecutionTime > 0 {
			p.MaxExecutionTime = pc.MaxExecutionTime
		}
		if pc.MaxMemoryMB > 0 {
			p.MaxMemoryBytes = pc.MaxMemoryMB << 20
		}
		if pc.MaxCodeBytes > 0 {
			p.MaxCodeBytes = pc.MaxCodeBytes
		}
		if pc.MaxOutputBytes > 0 {
			p.MaxOutputBytes = pc.MaxOutputBytes
		}
		if pc.MaxConcurrent > 0 {
			p.MaxConcurrent = pc.MaxConcurrent
		}
		if pc.AllowNetwork {
			p.AllowNetwork = true
		}
		if pc.AllowFileAccess {
			p.AllowFileAccess = true
		}
		if pc.AllowLocalStorage {
			p.AllowLocalStorage = true
		}
		overrides[lang] = p
	}
	return overrides
}

// RetryPolicy converts the retry section into the normalization layer's
// policy value.
func (c *Config) RetryPolicy() normalize.RetryPolicy {
	return normalize.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
