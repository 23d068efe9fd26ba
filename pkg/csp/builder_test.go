package csp

import (
	"strings"
	"testing"
)

func TestDefaultDeniesEverything(t *testing.T) {
	policy := NewBuilder().Build()

	for _, directive := range []string{
		"default-src 'none'", "script-src 'none'", "style-src 'none'",
		"img-src 'none'", "connect-src 'none'", "frame-src 'none'",
		"object-src 'none'",
	} {
		if !strings.Contains(policy, directive) {
			t.Errorf("baseline policy missing %q: %s", directive, policy)
		}
	}
}

func TestAllowInlineScripts(t *testing.T) {
	policy := NewBuilder().AllowInlineScripts().Build()

	if !strings.Contains(policy, "script-src 'unsafe-inline' 'unsafe-eval'") {
		t.Errorf("script-src not relaxed: %s", policy)
	}
	if !strings.Contains(policy, "connect-src 'none'") {
		t.Errorf("connect-src should stay denied: %s", policy)
	}
}

func TestDenyResets(t *testing.T) {
	policy := NewBuilder().AllowInlineScripts().Deny("script-src").Build()

	if !strings.Contains(policy, "script-src 'none'") {
		t.Errorf("Deny did not reset script-src: %s", policy)
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := func() string {
		return NewBuilder().AllowInlineStyles().AllowDataImages().Allow("font-src", "data:").Build()
	}
	first := b()
	for i := 0; i < 10; i++ {
		if got := b(); got != first {
			t.Fatalf("non-deterministic output:\n%s\n%s", first, got)
		}
	}
}
