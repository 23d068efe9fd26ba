package threat

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxConcatenations = 10
	maxNestingDepth   = 15
	maxLineLength     = 500
)

var (
	concatRe     = regexp.MustCompile(`["']\s*\+`)
	identifierRe = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)

	// Short tokens that are ordinary language keywords, not minified names.
	commonShortWords = map[string]bool{
		"if": true, "in": true, "is": true, "of": true, "on": true,
		"or": true, "do": true, "to": true, "as": true, "by": true,
		"at": true, "no": true, "id": true, "fn": true,
	}
)

// analyzeHeuristics flags structural smells that pattern matching misses:
// obfuscation via concatenation, pathological nesting, minified or packed
// lines, and a high ratio of cryptic identifiers.
func analyzeHeuristics(code string) []Violation {
	var violations []Violation

	if n := len(concatRe.FindAllStringIndex(code, -1)); n > maxConcatenations {
		violations = append(violations, Violation{
			Kind:       KindMaliciousCode,
			Category:   "obfuscation",
			Severity:   SeverityMedium.String(),
			Message:    fmt.Sprintf("excessive string concatenation (%d occurrences)", n),
			Suggestion: "use a single literal or a template instead of chained concatenation",
		})
	}

	if depth := maxDepth(code); depth > maxNestingDepth {
		violations = append(violations, Violation{
			Kind:       KindResourceLimit,
			Category:   "complexity",
			Severity:   SeverityMedium.String(),
			Message:    fmt.Sprintf("excessive nesting depth (%d levels)", depth),
			Suggestion: "flatten deeply nested blocks",
		})
	}

	for i, line := range strings.Split(code, "\n") {
		if len(line) > maxLineLength {
			violations = append(violations, Violation{
				Kind:       KindMaliciousCode,
				Category:   "obfuscation",
				Severity:   SeverityLow.String(),
				Message:    fmt.Sprintf("excessively long line (%d chars)", len(line)),
				Line:       i + 1,
				Suggestion: "break the line up; packed one-liners read as obfuscation",
			})
			break
		}
	}

	// Minified/generated code leans on one- and two-character names. The
	// threshold scales with code size so short snippets are not penalized.
	if len(code) >= 100 {
		short := 0
		for _, id := range identifierRe.FindAllString(code, -1) {
			if len(id) <= 2 && !commonShortWords[strings.ToLower(id)] {
				short++
			}
		}
		if short > len(code)/100 {
			violations = append(violations, Violation{
				Kind:       KindMaliciousCode,
				Category:   "obfuscation",
				Severity:   SeverityLow.String(),
				Message:    fmt.Sprintf("high ratio of cryptic identifiers (%d short names)", short),
				Suggestion: "use descriptive names",
			})
		}
	}

	return violations
}

func maxDepth(code string) int {
	depth, deepest := 0, 0
	for _, r := range code {
		switch r {
		case '{', '(', '[':
			depth++
			if depth > deepest {
				deepest = depth
			}
		case '}', ')', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return deepest
}
