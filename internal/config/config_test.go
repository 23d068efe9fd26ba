package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"polyglot-sandbox/internal/policy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Executor.DispatchInterval != 50*time.Millisecond {
		t.Errorf("Executor.DispatchInterval = %s, want 50ms", cfg.Executor.DispatchInterval)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Analyzer.ViolationLogSize != 1000 {
		t.Errorf("Analyzer.ViolationLogSize = %d, want 1000", cfg.Analyzer.ViolationLogSize)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"dispatch interval 0", func(c *Config) { c.Executor.DispatchInterval = 0 }, true},
		{"retry attempts 0", func(c *Config) { c.Retry.MaxAttempts = 0 }, true},
		{"base delay > max delay", func(c *Config) {
			c.Retry.BaseDelay = 10 * time.Second
			c.Retry.MaxDelay = time.Second
		}, true},
		{"violation log 0", func(c *Config) { c.Analyzer.ViolationLogSize = 0 }, true},
		{"unknown policy language", func(c *Config) {
			c.Policies = map[string]PolicyConfig{"cobol": {}}
		}, true},
		{"known policy language", func(c *Config) {
			c.Policies = map[string]PolicyConfig{"lua": {MaxConcurrent: 8}}
		}, false},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
executor:
  dispatch_interval: 25ms
retry:
  max_attempts: 5
  base_delay: 250ms
  max_delay: 4s
policies:
  lua:
    max_execution_time: 45s
    max_concurrent: 3
  javascript:
    blocked_patterns:
      - "document\\.write"
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Executor.DispatchInterval != 25*time.Millisecond {
		t.Errorf("Executor.DispatchInterval = %s, want 25ms", cfg.Executor.DispatchInterval)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if got := cfg.Policies["lua"].MaxExecutionTime; got != 45*time.Second {
		t.Errorf("lua max_execution_time = %s, want 45s", got)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestPolicyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = map[string]PolicyConfig{
		"lua": {MaxExecutionTime: 45 * time.Second, MaxMemoryMB: 512},
	}

	overrides := cfg.PolicyOverrides()
	p, ok := overrides[policy.LangLua]
	if !ok {
		t.Fatal("lua override missing")
	}
	if p.MaxExecutionTime != 45*time.Second {
		t.Errorf("MaxExecutionTime = %s, want 45s", p.MaxExecutionTime)
	}
	if p.MaxMemoryBytes != 512<<20 {
		t.Errorf("MaxMemoryBytes = %d, want %d", p.MaxMemoryBytes, int64(512)<<20)
	}
	// Untouched fields keep the built-in lua defaults.
	if p.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want built-in default 2", p.MaxConcurrent)
	}

	if got := DefaultConfig().PolicyOverrides(); got != nil {
		t.Errorf("no policies configured must yield nil overrides, got %v", got)
	}
}

func TestRetryPolicyConversion(t *testing.T) {
	cfg := DefaultConfig()
	rp := cfg.RetryPolicy()
	if rp.MaxAttempts != cfg.Retry.MaxAttempts || rp.BaseDelay != cfg.Retry.BaseDelay {
		t.Errorf("RetryPolicy() = %+v", rp)
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
