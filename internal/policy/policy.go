// Package policy holds the per-language security policies consumed by the
// threat analyzer, the execution engines, and the controller. Policies are
// immutable after startup and safe to share without locking.
package policy

import (
	"fmt"
	"time"

	"polyglot-sandbox/pkg/csp"
)

// Language identifies a supported execution language.
type Language string

const (
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangLua        Language = "lua"
	LangSQL        Language = "sql"
	LangJSON       Language = "json"
	LangYAML       Language = "yaml"
	LangMarkdown   Language = "markdown"
	LangRegex      Language = "regex"
)

// Languages lists every supported language. The engine registry validates at
// startup that each entry has exactly one registered engine.
func Languages() []Language {
	return []Language{
		LangHTML, LangCSS, LangJavaScript, LangTypeScript,
		LangLua, LangSQL,
		LangJSON, LangYAML, LangMarkdown, LangRegex,
	}
}

// Parse maps a wire-format language name onto the enum.
func Parse(s string) (Language, error) {
	for _, l := range Languages() {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported language: %q", s)
}

// SecurityPolicy is the declarative per-language policy: blocked source
// patterns, resource ceilings, and permitted capabilities.
type SecurityPolicy struct {
	Language          Language      `yaml:"language"`
	BlockedPatterns   []string      `yaml:"blocked_patterns"`
	MaxExecutionTime  time.Duration `yaml:"max_execution_time"`
	MaxMemoryBytes    int64         `yaml:"max_memory_bytes"`
	MaxCodeBytes      int64         `yaml:"max_code_bytes"`
	MaxOutputBytes    int64         `yaml:"max_output_bytes"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	AllowNetwork      bool          `yaml:"allow_network"`
	AllowFileAccess   bool          `yaml:"allow_file_access"`
	AllowLocalStorage bool          `yaml:"allow_local_storage"`
	AllowInlineScript bool          `yaml:"allow_inline_script"`
}

// Store maps each language to its policy. Lookups never fail: languages with
// no bespoke entry fall back to the restrictive default.
type Store struct {
	policies map[Language]SecurityPolicy
	fallback SecurityPolicy
}

// NewStore builds a store from the built-in defaults, then applies overrides.
// Overrides replace whole policy entries, keyed by language.
func NewStore(overrides map[Language]SecurityPolicy) *Store {
	s := &Store{
		policies: defaultPolicies(),
		fallback: defaultPolicy(""),
	}
	for lang, p := range overrides {
		p.Language = lang
		s.policies[lang] = p
	}
	return s
}

// Get returns the policy for a language, falling back to the default-deny
// policy for unknown languages.
func (s *Store) Get(lang Language) SecurityPolicy {
	if p, ok := s.policies[lang]; ok {
		return p
	}
	p := s.fallback
	p.Language = lang
	return p
}

// SandboxDirectives serializes the policy for a language into the CSP string
// attached to its sandboxed execution document. Inline styles are always
// permitted; scripts and eval only where the policy says so.
func (s *Store) SandboxDirectives(lang Language) string {
	p := s.Get(lang)

	b := csp.NewBuilder().
		AllowInlineStyles().
		AllowDataImages()

	if p.AllowInlineScript {
		b.AllowInlineScripts()
	}
	if p.AllowNetwork {
		b.Allow("connect-src", "https:")
	}
	return b.Build()
}

func defaultPolicy(lang Language) SecurityPolicy {
	return SecurityPolicy{
		Language:         lang,
		MaxExecutionTime: 5 * time.Second,
		MaxMemoryBytes:   64 << 20,
		MaxCodeBytes:     1 << 20,
		MaxOutputBytes:   1 << 20,
		MaxConcurrent:    4,
	}
}

// Conservative timeout defaults per family: the interpreter cannot be
// preempted mid-instruction, so the managed runtime gets tens of seconds,
// the query engine a mid-range value, and everything else single digits.
func defaultPolicies() map[Language]SecurityPolicy {
	policies := make(map[Language]SecurityPolicy, len(Languages()))
	for _, lang := range Languages() {
		policies[lang] = defaultPolicy(lang)
	}

	js := policies[LangJavaScript]
	js.AllowInlineScript = true
	policies[LangJavaScript] = js

	ts := policies[LangTypeScript]
	ts.AllowInlineScript = true
	policies[LangTypeScript] = ts

	lua := policies[LangLua]
	lua.MaxExecutionTime = 30 * time.Second
	lua.MaxMemoryBytes = 256 << 20
	lua.MaxConcurrent = 2
	policies[LangLua] = lua

	sql := policies[LangSQL]
	sql.MaxExecutionTime = 10 * time.Second
	sql.MaxMemoryBytes = 128 << 20
	sql.MaxConcurrent = 2
	policies[LangSQL] = sql

	return policies
}

// Validate checks that every policy carries sane ceilings. Called once at
// startup; a store that fails validation must not be served.
func (s *Store) Validate() error {
	for lang, p := range s.policies {
		if p.MaxExecutionTime <= 0 {
			return fmt.Errorf("policy %s: max_execution_time must be positive", lang)
		}
		if p.MaxConcurrent < 1 {
			return fmt.Errorf("policy %s: max_concurrent must be >= 1", lang)
		}
		if p.MaxCodeBytes < 1 || p.MaxCodeBytes > 16<<20 {
			return fmt.Errorf("policy %s: max_code_bytes must be 1-%d, got %d", lang, 16<<20, p.MaxCodeBytes)
		}
		if p.MaxMemoryBytes < 1<<20 {
			return fmt.Errorf("policy %s: max_memory_bytes must be >= 1MB", lang)
		}
	}
	return nil
}
