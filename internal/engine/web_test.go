package engine

import (
	"context"
	"strings"
	"testing"

	"polyglot-sandbox/internal/policy"
)

func newWebTestEngine() *WebEngine {
	return NewWebEngine(policy.NewStore(nil))
}

func TestWebHTMLDocument(t *testing.T) {
	e := newWebTestEngine()

	res := e.Execute(context.Background(), &Request{
		Code:     `<h1>Hello</h1>`,
		Language: policy.LangHTML,
	})
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if !strings.Contains(res.VisualOutput, `<meta http-equiv="Content-Security-Policy"`) {
		t.Errorf("document missing CSP meta tag: %s", res.VisualOutput)
	}
	if !strings.Contains(res.VisualOutput, "<h1>Hello</h1>") {
		t.Errorf("document missing body content: %s", res.VisualOutput)
	}
	if res.Metadata["interactivity"] != false {
		t.Errorf("interactivity = %v, want false for html", res.Metadata["interactivity"])
	}
}

func TestWebCSPDeniesScriptForHTML(t *testing.T) {
	e := newWebTestEngine()

	res := e.Execute(context.Background(), &Request{
		Code:     `<p>static</p>`,
		Language: policy.LangHTML,
	})
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	csp, _ := res.Metadata["csp"].(string)
	if !strings.Contains(csp, "script-src 'none'") {
		t.Errorf("html policy must deny scripts, got csp %q", csp)
	}
}

func TestWebCSSWrappedInPreview(t *testing.T) {
	e := newWebTestEngine()

	res := e.Execute(context.Background(), &Request{
		Code:     `h1 { color: red; }`,
		Language: policy.LangCSS,
	})
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.Error)
	}
	if !strings.Contains(res.VisualOutput, "<style>") || !strings.Contains(res.VisualOutput, "color: red") {
		t.Errorf("stylesheet not embedded: %s", res.VisualOutput)
	}
	if !strings.Contains(res.VisualOutput, `class="preview"`) {
		t.Errorf("preview scaffolding missing: %s", res.VisualOutput)
	}
}

func TestWebScriptDocumentInteractive(t *testing.T) {
	e := newWebTestEngine()

	for _, lang := range []policy.Language{policy.LangJavaScript, policy.LangTypeScript} {
		res := e.Execute(context.Background(), &Request{
			Code:     `console.log("hi")`,
			Language: lang,
		})
		if !res.Success {
			t.Fatalf("%s: Execute failed: %s", lang, res.Error)
		}
		if res.Metadata["interactivity"] != true {
			t.Errorf("%s: interactivity = %v, want true", lang, res.Metadata["interactivity"])
		}
		if !strings.Contains(res.VisualOutput, `id="__console"`) {
			t.Errorf("%s: console capture missing: %s", lang, res.VisualOutput)
		}
		if !strings.Contains(res.VisualOutput, "try {") {
			t.Errorf("%s: user code not wrapped for error capture: %s", lang, res.VisualOutput)
		}
		csp, _ := res.Metadata["csp"].(string)
		if !strings.Contains(csp, "'unsafe-inline'") {
			t.Errorf("%s: script policy must allow inline execution, got %q", lang, csp)
		}
	}
}

func TestWebUnsupportedLanguage(t *testing.T) {
	e := newWebTestEngine()

	res := e.Execute(context.Background(), &Request{
		Code:     `print(1)`,
		Language: policy.LangLua,
	})
	if res.Success {
		t.Fatal("non-web language accepted")
	}
	if !strings.Contains(res.Error, "unsupported language") {
		t.Errorf("error = %s", res.Error)
	}
}

func TestWebSanitizeFragment(t *testing.T) {
	e := newWebTestEngine()

	out := e.SanitizeFragment(`<p>ok</p><script>alert(1)</script><img src=x onerror="x()">`)
	if strings.Contains(out, "<script") || strings.Contains(out, "onerror") {
		t.Errorf("active content survived sanitization: %s", out)
	}
	if !strings.Contains(out, "<p>ok</p>") {
		t.Errorf("benign markup stripped: %s", out)
	}
}

func TestWebValidateCode(t *testing.T) {
	e := newWebTestEngine()

	tests := []struct {
		code string
		want bool
	}{
		{`function f() { return [1, 2]; }`, true},
		{`h1 { color: red; }`, true},
		{`} broken`, false},
		{`(]`, false},
		{`{)`, false},
		{`([)]`, false},
		{`([{}])`, true},
	}
	for _, tt := range tests {
		if got := e.ValidateCode(tt.code); got != tt.want {
			t.Errorf("ValidateCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWebCleanup(t *testing.T) {
	e := newWebTestEngine()

	e.Execute(context.Background(), &Request{Code: `<p>a</p>`, SessionID: "s1", Language: policy.LangHTML})
	e.Execute(context.Background(), &Request{Code: `<p>b</p>`, SessionID: "s2", Language: policy.LangHTML})

	e.Cleanup("s1")
	e.mu.Lock()
	_, s1 := e.sessions["s1"]
	_, s2 := e.sessions["s2"]
	e.mu.Unlock()
	if s1 {
		t.Error("s1 survived targeted cleanup")
	}
	if !s2 {
		t.Error("s2 removed by targeted cleanup of s1")
	}

	e.Cleanup("")
	e.mu.Lock()
	remaining := len(e.sessions)
	e.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d sessions survived full cleanup", remaining)
	}
	e.Cleanup("")
}
