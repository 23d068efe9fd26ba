package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLEngine validates YAML documents and computes a best-effort JSON
// equivalent for comparison. Multi-document streams parse fully but only the
// first document is rendered.
type YAMLEngine struct{}

func NewYAMLEngine() *YAMLEngine { return &YAMLEngine{} }

func (e *YAMLEngine) Execute(ctx context.Context, req *Request) *Result {
	start := time.Now()

	input := req.Code
	if strings.TrimSpace(input) == "" {
		return &Result{
			Success:  true,
			Output:   "empty input: nothing to validate",
			Duration: since(start),
		}
	}

	var value any
	if err := yaml.Unmarshal([]byte(input), &value); err != nil {
		// yaml.v3 error strings already carry "line N" positions.
		return failure(start, "syntax error: "+strings.TrimPrefix(err.Error(), "yaml: "))
	}

	equivalent, err := json.MarshalIndent(normalizeYAML(value), "", "  ")
	if err != nil {
		return &Result{
			Success:  true,
			Output:   "valid YAML (no JSON equivalent: " + err.Error() + ")",
			Duration: since(start),
		}
	}

	return &Result{
		Success:  true,
		Output:   string(equivalent),
		Duration: since(start),
		Metadata: map[string]any{
			"root_type": jsonTypeName(normalizeYAML(value)),
		},
	}
}

func (e *YAMLEngine) ValidateCode(code string) bool {
	var v any
	return yaml.Unmarshal([]byte(code), &v) == nil
}

func (e *YAMLEngine) Cleanup(string) {}

// normalizeYAML rewrites decoded YAML into JSON-encodable shapes: map keys
// become strings and nested containers are normalized recursively.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(val)
	default:
		return val
	}
}
