package engine

import (
	"fmt"

	"polyglot-sandbox/internal/policy"
)

// Registry is the closed language→engine dispatch table. It is built once at
// startup and validated exhaustively: construction fails if any supported
// language lacks an engine, so dispatch can never silently fall through.
type Registry struct {
	engines map[policy.Language]Engine
}

// NewRegistry wires every engine against the policy store and verifies the
// table covers the full language enum.
func NewRegistry(policies *policy.Store) (*Registry, error) {
	web := NewWebEngine(policies)
	structured := map[policy.Language]Engine{
		policy.LangJSON:     NewJSONEngine(),
		policy.LangYAML:     NewYAMLEngine(),
		policy.LangMarkdown: NewMarkdownEngine(),
		policy.LangRegex:    NewRegexEngine(),
	}

	r := &Registry{engines: map[policy.Language]Engine{
		policy.LangHTML:       web,
		policy.LangCSS:        web,
		policy.LangJavaScript: web,
		policy.LangTypeScript: web,
		policy.LangLua:        NewLuaEngine(policies),
		policy.LangSQL:        NewQueryEngine(policies),
	}}
	for lang, e := range structured {
		r.engines[lang] = e
	}

	for _, lang := range policy.Languages() {
		if _, ok := r.engines[lang]; !ok {
			return nil, fmt.Errorf("no engine registered for language %q", lang)
		}
	}
	return r, nil
}

// Get returns the engine for a language.
func (r *Registry) Get(lang policy.Language) (Engine, error) {
	e, ok := r.engines[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q", lang)
	}
	return e, nil
}

// Cleanup releases resources held for a session across every engine. An
// empty session ID releases everything.
func (r *Registry) Cleanup(sessionID string) {
	seen := make(map[Engine]bool)
	for _, e := range r.engines {
		if seen[e] {
			continue
		}
		seen[e] = true
		e.Cleanup(sessionID)
	}
}
