package policy

import (
	"strings"
	"testing"
	"time"
)

func TestGetFallsBackToDefault(t *testing.T) {
	s := NewStore(nil)

	p := s.Get(Language("cobol"))
	if p.AllowNetwork || p.AllowFileAccess || p.AllowInlineScript {
		t.Errorf("fallback policy must deny all capabilities: %+v", p)
	}
	if p.MaxExecutionTime != 5*time.Second {
		t.Errorf("fallback timeout = %s, want 5s", p.MaxExecutionTime)
	}
	if p.Language != Language("cobol") {
		t.Errorf("fallback policy language = %q", p.Language)
	}
}

func TestOverridesReplacePolicy(t *testing.T) {
	s := NewStore(map[Language]SecurityPolicy{
		LangLua: {
			MaxExecutionTime: time.Minute,
			MaxMemoryBytes:   512 << 20,
			MaxCodeBytes:     1 << 20,
			MaxOutputBytes:   1 << 20,
			MaxConcurrent:    8,
		},
	})

	p := s.Get(LangLua)
	if p.MaxExecutionTime != time.Minute {
		t.Errorf("override not applied: %s", p.MaxExecutionTime)
	}
	if p.Language != LangLua {
		t.Errorf("override must carry the language key, got %q", p.Language)
	}
}

func TestSandboxDirectives(t *testing.T) {
	s := NewStore(nil)

	tests := []struct {
		lang        Language
		wantScript  string
		wantConnect string
	}{
		{LangHTML, "script-src 'none'", "connect-src 'none'"},
		{LangJavaScript, "script-src 'unsafe-inline' 'unsafe-eval'", "connect-src 'none'"},
		{LangTypeScript, "script-src 'unsafe-inline' 'unsafe-eval'", "connect-src 'none'"},
		{LangMarkdown, "script-src 'none'", "connect-src 'none'"},
	}

	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			directives := s.SandboxDirectives(tt.lang)
			if !strings.Contains(directives, tt.wantScript) {
				t.Errorf("directives missing %q: %s", tt.wantScript, directives)
			}
			if !strings.Contains(directives, tt.wantConnect) {
				t.Errorf("directives missing %q: %s", tt.wantConnect, directives)
			}
			if !strings.Contains(directives, "style-src 'unsafe-inline'") {
				t.Errorf("inline styles must always be allowed: %s", directives)
			}
		})
	}
}

func TestParse(t *testing.T) {
	for _, lang := range Languages() {
		got, err := Parse(string(lang))
		if err != nil || got != lang {
			t.Errorf("Parse(%q) = %q, %v", lang, got, err)
		}
	}

	if _, err := Parse("brainfuck"); err == nil {
		t.Error("Parse should reject unknown languages")
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := NewStore(nil).Validate(); err != nil {
		t.Errorf("default store must validate: %v", err)
	}
}

func TestValidateRejectsBadCeilings(t *testing.T) {
	s := NewStore(map[Language]SecurityPolicy{
		LangJSON: {MaxExecutionTime: 0, MaxConcurrent: 1, MaxCodeBytes: 1024, MaxMemoryBytes: 1 << 20},
	})
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for zero timeout")
	}
}
