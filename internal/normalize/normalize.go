// Package normalize converts heterogeneous engine outcomes into the single
// result contract and failure taxonomy the rest of the system speaks. Nothing
// below the controller surfaces raw errors to callers; everything funnels
// through here.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"polyglot-sandbox/internal/engine"
	"polyglot-sandbox/internal/threat"
)

// Outcome is a classified execution result. Class is empty on success;
// Retryable tells the caller whether offering a retry makes sense.
type Outcome struct {
	Result      *engine.Result
	Class       Class
	Retryable   bool
	Suggestions []string
}

// FromEngine classifies an engine result. Successful results pass through
// untouched; failures get a taxonomy class inferred from the engine's error
// message and a suggestion where one applies.
func FromEngine(res *engine.Result) Outcome {
	if res.Success {
		return Outcome{Result: res}
	}

	class := classifyMessage(res.Error)
	return Outcome{
		Result:      res,
		Class:       class,
		Retryable:   class.Retryable(),
		Suggestions: suggestionsFor(class),
	}
}

// FromThreat converts a pre-execution rejection into a failed outcome. The
// highest-severity violation drives the class and its evidence is surfaced so
// the caller can show the offending fragment. Never retryable.
func FromThreat(det threat.Result) Outcome {
	worst := worstViolation(det.Violations)

	msg := "code rejected by security analysis"
	if worst != nil {
		msg = worst.Message
		if worst.Evidence != "" && severityRank(worst.Severity) >= severityRank("high") {
			msg += " (evidence: " + worst.Evidence + ")"
		}
	}

	class := ClassMaliciousCode
	if worst != nil {
		switch worst.Kind {
		case threat.KindNetworkAccess, threat.KindFileAccess, threat.KindStorageAccess:
			class = ClassUnauthorized
		}
	}

	suggestions := make([]string, 0, len(det.Violations))
	seen := make(map[string]bool)
	for _, v := range det.Violations {
		if v.Suggestion != "" && !seen[v.Suggestion] {
			seen[v.Suggestion] = true
			suggestions = append(suggestions, v.Suggestion)
		}
	}
	if len(suggestions) == 0 {
		suggestions = suggestionsFor(class)
	}

	return Outcome{
		Result: &engine.Result{
			Success: false,
			Error:   msg,
			Metadata: map[string]any{
				"risk_level":      det.RiskLevel,
				"risk_score":      det.Score,
				"violation_count": len(det.Violations),
			},
		},
		Class:       class,
		Retryable:   false,
		Suggestions: suggestions,
	}
}

// Timeout builds the outcome for an execution the controller gave up on. Used
// when the deadline fires before the engine returns; any late engine result is
// discarded in favor of this one.
func Timeout(elapsed time.Duration, limit time.Duration) Outcome {
	return Outcome{
		Result: &engine.Result{
			Success:  false,
			Error:    fmt.Sprintf("execution timed out after %s", limit),
			Duration: elapsed,
		},
		Class:       ClassTimeout,
		Retryable:   true,
		Suggestions: suggestionsFor(ClassTimeout),
	}
}

// Cancelled builds the outcome for an explicitly cancelled execution.
func Cancelled(elapsed time.Duration) Outcome {
	return Outcome{
		Result: &engine.Result{
			Success:  false,
			Error:    "execution cancelled",
			Duration: elapsed,
		},
		Class:     ClassEngineRuntime,
		Retryable: false,
	}
}

// Unsupported builds the outcome for a language no engine handles.
func Unsupported(language string) Outcome {
	return Outcome{
		Result: &engine.Result{
			Success: false,
			Error:   fmt.Sprintf("unsupported language: %q", language),
		},
		Class:       ClassUnsupported,
		Retryable:   false,
		Suggestions: suggestionsFor(ClassUnsupported),
	}
}

// classifyMessage infers the taxonomy class from an engine error message.
// Engines report failures as strings by contract, so classification is
// lexical. Unmatched messages default to the generic runtime class, which is
// the only retryable bucket besides timeouts.
func classifyMessage(msg string) Class {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timed out"):
		return ClassTimeout
	case strings.Contains(lower, "byte limit") || strings.Contains(lower, "limit exceeded"):
		return ClassResourceLimit
	case strings.Contains(lower, "unsupported language"):
		return ClassUnsupported
	case strings.Contains(lower, "invalid input format"),
		strings.Contains(lower, "syntax error"),
		strings.Contains(lower, "syntaxerror"),
		strings.Contains(lower, "does not compile"),
		strings.Contains(lower, "unknown flag"),
		strings.Contains(lower, "unknown package"),
		strings.Contains(lower, "no code"),
		strings.Contains(lower, "no query"):
		return ClassFormat
	default:
		return ClassEngineRuntime
	}
}

func worstViolation(violations []threat.Violation) *threat.Violation {
	var worst *threat.Violation
	for i := range violations {
		if worst == nil || severityRank(violations[i].Severity) > severityRank(worst.Severity) {
			worst = &violations[i]
		}
	}
	return worst
}

func severityRank(severity string) int {
	switch severity {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

func suggestionsFor(class Class) []string {
	switch class {
	case ClassMaliciousCode:
		return []string{"avoid dynamic code evaluation - use a safer alternative"}
	case ClassResourceLimit:
		return []string{"reduce the size of the submitted code or its output"}
	case ClassTimeout:
		return []string{"simplify the code or split it into smaller steps, then try again"}
	case ClassUnauthorized:
		return []string{"remove network, file, and storage access - the sandbox does not permit them"}
	case ClassFormat:
		return []string{"check the input format and fix the reported syntax issue"}
	case ClassUnsupported:
		return []string{"choose one of the supported languages"}
	default:
		return nil
	}
}
