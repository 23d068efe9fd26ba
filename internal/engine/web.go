package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"polyglot-sandbox/internal/policy"
)

// WebEngine handles the markup/style/script family. It does not run script
// content in-process: it assembles a disposable, CSP-restricted sandbox
// document per request and returns it as the visual output for the caller's
// isolated frame to render. One document context is tracked per session and
// destroyed on cleanup.
type WebEngine struct {
	policies  *policy.Store
	sanitizer *bluemonday.Policy

	mu       sync.Mutex
	sessions map[string]string // session -> last rendered document
}

func NewWebEngine(policies *policy.Store) *WebEngine {
	return &WebEngine{
		policies:  policies,
		sanitizer: bluemonday.UGCPolicy(),
		sessions:  make(map[string]string),
	}
}

func (e *WebEngine) Execute(ctx context.Context, req *Request) *Result {
	start := time.Now()

	if ctx.Err() != nil {
		return failure(start, "execution timed out before rendering started")
	}

	pol := e.policies.Get(req.Language)
	if int64(len(req.Code)) > pol.MaxCodeBytes {
		return failure(start, fmt.Sprintf("code exceeds %d byte limit", pol.MaxCodeBytes))
	}

	directives := e.policies.SandboxDirectives(req.Language)

	var doc string
	interactive := false
	switch req.Language {
	case policy.LangHTML:
		doc = sandboxDocument(directives, "", req.Code)
	case policy.LangCSS:
		body := `<div class="preview"><h1>Heading</h1><p>Paragraph text with a <a href="#">link</a>.</p><button>Button</button></div>`
		doc = sandboxDocument(directives, "<style>\n"+req.Code+"\n</style>", body)
	case policy.LangJavaScript, policy.LangTypeScript:
		interactive = true
		doc = sandboxDocument(directives, "",
			consoleShim+"<script>\ntry {\n"+req.Code+"\n} catch (e) { __report(String(e)); }\n</script>")
	default:
		return failure(start, fmt.Sprintf(
			"unsupported language for the web engine: %q (supported: html, css, javascript, typescript)",
			req.Language))
	}

	if req.SessionID != "" {
		e.mu.Lock()
		e.sessions[req.SessionID] = doc
		e.mu.Unlock()
	}

	return &Result{
		Success:      true,
		Output:       fmt.Sprintf("rendered %d byte sandbox document", len(doc)),
		VisualOutput: truncate(doc, pol.MaxOutputBytes),
		Duration:     since(start),
		Metadata: map[string]any{
			"content_type":  "text/html",
			"interactivity": interactive,
			"csp":           directives,
		},
	}
}

// ValidateCode checks bracket balance. Cheap and lexical only.
func (e *WebEngine) ValidateCode(code string) bool {
	var stack []rune
	pairs := map[rune]rune{'}': '{', ')': '(', ']': '['}
	for _, r := range code {
		switch r {
		case '{', '(', '[':
			stack = append(stack, r)
		case '}', ')', ']':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return true
}

func (e *WebEngine) Cleanup(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sessionID == "" {
		e.sessions = make(map[string]string)
		return
	}
	delete(e.sessions, sessionID)
}

// SanitizeFragment strips script tags, inline event handlers, and other
// active content from an HTML fragment. Used for stored-content previews.
func (e *WebEngine) SanitizeFragment(html string) string {
	return e.sanitizer.Sanitize(html)
}

// sandboxDocument wraps content in a full document with the CSP attached via
// meta tag, so the directives travel with the document into whatever frame
// renders it.
func sandboxDocument(directives, head, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta http-equiv="Content-Security-Policy" content="` + directives + "\">\n")
	b.WriteString(`<meta charset="utf-8">` + "\n")
	if head != "" {
		b.WriteString(head + "\n")
	}
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>")
	return b.String()
}

// consoleShim captures console output and uncaught errors inside the sandbox
// document and mirrors them into a visible log element.
const consoleShim = `<pre id="__console"></pre><script>
(function () {
  var out = document.getElementById("__console");
  function write(level, args) {
    out.textContent += "[" + level + "] " + Array.prototype.map.call(args, String).join(" ") + "\n";
  }
  ["log", "info", "warn", "error"].forEach(function (level) {
    var original = console[level];
    console[level] = function () { write(level, arguments); original.apply(console, arguments); };
  });
  window.__report = function (msg) { write("error", [msg]); };
})();
</script>`
