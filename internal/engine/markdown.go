package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MarkdownEngine renders Markdown to preview HTML. Rendered output is
// sanitized before it leaves the engine: embedded script tags, inline event
// handler attributes, and other active content are neutralized so stored
// previews cannot carry XSS.
type MarkdownEngine struct {
	renderer  goldmark.Markdown
	sanitizer *bluemonday.Policy
}

func NewMarkdownEngine() *MarkdownEngine {
	return &MarkdownEngine{
		renderer: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		sanitizer: bluemonday.UGCPolicy(),
	}
}

func (e *MarkdownEngine) Execute(ctx context.Context, req *Request) *Result {
	start := time.Now()

	if strings.TrimSpace(req.Code) == "" {
		return &Result{
			Success:  true,
			Output:   "empty input: nothing to render",
			Duration: since(start),
		}
	}

	var rendered bytes.Buffer
	if err := e.renderer.Convert([]byte(req.Code), &rendered); err != nil {
		return failure(start, "rendering markdown: "+err.Error())
	}

	safe := e.sanitizer.SanitizeBytes(rendered.Bytes())

	return &Result{
		Success:      true,
		Output:       fmt.Sprintf("rendered %d bytes of sanitized HTML", len(safe)),
		VisualOutput: string(safe),
		Duration:     since(start),
		Metadata: map[string]any{
			"content_type": "text/html",
			"sanitized":    true,
		},
	}
}

// ValidateCode always accepts: any text is renderable Markdown.
func (e *MarkdownEngine) ValidateCode(string) bool { return true }

func (e *MarkdownEngine) Cleanup(string) {}
