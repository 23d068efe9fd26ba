package engine

import (
	"context"
	"testing"

	"polyglot-sandbox/internal/policy"
)

func TestRegistryCoversEveryLanguage(t *testing.T) {
	r, err := NewRegistry(policy.NewStore(nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	for _, lang := range policy.Languages() {
		e, err := r.Get(lang)
		if err != nil {
			t.Errorf("Get(%s): %v", lang, err)
			continue
		}
		if e == nil {
			t.Errorf("Get(%s) returned nil engine", lang)
		}
	}
}

func TestRegistryUnknownLanguage(t *testing.T) {
	r, err := NewRegistry(policy.NewStore(nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, err := r.Get(policy.Language("cobol")); err == nil {
		t.Error("unknown language resolved to an engine")
	}
}

func TestRegistrySharedWebEngine(t *testing.T) {
	r, err := NewRegistry(policy.NewStore(nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	htmlEngine, _ := r.Get(policy.LangHTML)
	jsEngine, _ := r.Get(policy.LangJavaScript)
	if htmlEngine != jsEngine {
		t.Error("web-family languages must share one engine instance")
	}
}

func TestRegistryCleanupAcrossEngines(t *testing.T) {
	r, err := NewRegistry(policy.NewStore(nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	lua, _ := r.Get(policy.LangLua)
	lua.Execute(context.Background(), &Request{Code: `x = 1`, SessionID: "s1", Language: policy.LangLua})
	sqlEngine, _ := r.Get(policy.LangSQL)
	sqlEngine.Execute(context.Background(), &Request{Code: `SELECT 1`, SessionID: "s1", Language: policy.LangSQL})

	r.Cleanup("s1")
	r.Cleanup("s1")
	r.Cleanup("")
}
