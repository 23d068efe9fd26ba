package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JSONEngine validates and reformats JSON documents. No execution happens;
// syntax errors are reported with line/column derived from the parser's byte
// offset.
type JSONEngine struct{}

func NewJSONEngine() *JSONEngine { return &JSONEngine{} }

func (e *JSONEngine) Execute(ctx context.Context, req *Request) *Result {
	start := time.Now()

	input := strings.TrimSpace(req.Code)
	if input == "" {
		return &Result{
			Success:  true,
			Output:   "empty input: nothing to validate",
			Duration: since(start),
		}
	}

	var value any
	if err := json.Unmarshal([]byte(input), &value); err != nil {
		return failure(start, jsonErrorMessage(input, err))
	}

	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return failure(start, "reformatting: "+err.Error())
	}

	return &Result{
		Success:  true,
		Output:   string(formatted),
		Duration: since(start),
		Metadata: map[string]any{
			"root_type": jsonTypeName(value),
			"bytes":     len(input),
		},
	}
}

func (e *JSONEngine) ValidateCode(code string) bool {
	return json.Valid([]byte(strings.TrimSpace(code)))
}

func (e *JSONEngine) Cleanup(string) {}

// jsonErrorMessage converts the decoder's byte offset into a line/column
// position for the caller's editor.
func jsonErrorMessage(input string, err error) string {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetPosition(input, syntaxErr.Offset)
		return fmt.Sprintf("syntax error at line %d, column %d: %v", line, col, syntaxErr)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetPosition(input, typeErr.Offset)
		return fmt.Sprintf("type error at line %d, column %d: %v", line, col, typeErr)
	}
	return "syntax error: " + err.Error()
}

func offsetPosition(input string, offset int64) (line, col int) {
	// The decoder reports the offset just past the offending byte.
	if offset > 0 {
		offset--
	}
	if offset > int64(len(input)) {
		offset = int64(len(input))
	}
	line, col = 1, 1
	for _, r := range input[:offset] {
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
