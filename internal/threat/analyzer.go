// Package threat implements the static pre-execution scanner: pattern
// matching, heuristic analysis, and entropy analysis over submitted source,
// producing a risk verdict before any engine runs the code.
package threat

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"polyglot-sandbox/internal/policy"
)

// Severity levels for detected violations.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ViolationKind classifies what a violation is about.
type ViolationKind string

const (
	KindMaliciousCode ViolationKind = "malicious_code"
	KindResourceLimit ViolationKind = "resource_limit"
	KindNetworkAccess ViolationKind = "network_access"
	KindFileAccess    ViolationKind = "file_access"
	KindStorageAccess ViolationKind = "storage_access"
)

// Violation is one finding from a scan.
type Violation struct {
	Kind       ViolationKind `json:"kind"`
	Category   string        `json:"category"`
	Severity   string        `json:"severity"`
	Message    string        `json:"message"`
	Evidence   string        `json:"evidence,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	Line       int           `json:"line,omitempty"`
}

// Result is the verdict for one scan. Computed fresh per request, never
// persisted beyond the response.
type Result struct {
	IsMalicious bool        `json:"is_malicious"`
	RiskLevel   string      `json:"risk_level"`
	Violations  []Violation `json:"violations"`
	Score       int         `json:"score"`
}

type pattern struct {
	re         *regexp.Regexp
	kind       ViolationKind
	category   string
	severity   Severity
	message    string
	suggestion string
}

// Analyzer scans source code against language-scoped pattern tables plus
// heuristic and entropy checks. Safe for concurrent use.
type Analyzer struct {
	policies *policy.Store
	universal []pattern
	byLang    map[policy.Language][]pattern
	custom    map[policy.Language][]pattern
	vlog      *ViolationLog
}

// NewAnalyzer builds an analyzer over the given policy store. Blocked
// patterns declared in a policy are compiled into additional critical
// patterns for that language; invalid expressions are skipped with a warning.
func NewAnalyzer(policies *policy.Store, vlog *ViolationLog) *Analyzer {
	a := &Analyzer{
		policies:  policies,
		universal: universalPatterns(),
		byLang:    languagePatterns(),
		custom:    make(map[policy.Language][]pattern),
		vlog:      vlog,
	}

	for _, lang := range policy.Languages() {
		for _, src := range policies.Get(lang).BlockedPatterns {
			re, err := regexp.Compile("(?i)" + src)
			if err != nil {
				log.Warn().Str("language", string(lang)).Str("pattern", src).
					Err(err).Msg("skipping invalid blocked pattern")
				continue
			}
			a.custom[lang] = append(a.custom[lang], pattern{
				re:         re,
				kind:       KindMaliciousCode,
				category:   "policy",
				severity:   SeverityCritical,
				message:    "code matches a policy-blocked pattern",
				suggestion: "remove the blocked construct",
			})
		}
	}
	return a
}

// Analyze scans code for the given language and returns the verdict. The
// scan is pure apart from appending findings to the bounded violation log.
func (a *Analyzer) Analyze(code string, lang policy.Language) Result {
	var violations []Violation

	tables := [][]pattern{a.universal}
	if langTable, ok := a.byLang[lang]; ok {
		tables = append(tables, langTable)
	}
	if custom, ok := a.custom[lang]; ok {
		tables = append(tables, custom)
	}

	lines := strings.Split(code, "\n")
	for _, table := range tables {
		for _, p := range table {
			loc := p.re.FindStringIndex(code)
			if loc == nil {
				continue
			}
			violations = append(violations, Violation{
				Kind:       p.kind,
				Category:   p.category,
				Severity:   p.severity.String(),
				Message:    p.message,
				Evidence:   evidence(code, loc),
				Suggestion: p.suggestion,
				Line:       lineOf(lines, loc[0]),
			})
		}
	}

	violations = append(violations, analyzeHeuristics(code)...)
	violations = append(violations, analyzeEntropy(code)...)

	score, verdict := scoreViolations(violations)
	result := Result{
		IsMalicious: verdict >= SeverityHigh,
		RiskLevel:   verdict.String(),
		Violations:  violations,
		Score:       score,
	}

	if a.vlog != nil {
		for _, v := range violations {
			a.vlog.Append(lang, v)
		}
	}

	if result.IsMalicious {
		log.Warn().
			Str("language", string(lang)).
			Str("risk", result.RiskLevel).
			Int("score", score).
			Int("violations", len(violations)).
			Msg("malicious code detected")
	}

	return result
}

// scoreViolations sums fixed per-severity points, capped at 100, and derives
// the verdict. A single critical finding short-circuits to critical so that
// one dangerous pattern cannot be diluted by an otherwise clean score.
func scoreViolations(violations []Violation) (int, Severity) {
	score := 0
	hasCritical, hasHigh := false, false
	for _, v := range violations {
		switch v.Severity {
		case "critical":
			score += 25
			hasCritical = true
		case "high":
			score += 15
			hasHigh = true
		case "medium":
			score += 8
		case "low":
			score += 3
		}
	}
	if score > 100 {
		score = 100
	}

	switch {
	case hasCritical || score > 80:
		return score, SeverityCritical
	case hasHigh || score > 60:
		return score, SeverityHigh
	case score > 30:
		return score, SeverityMedium
	default:
		return score, SeverityLow
	}
}

// evidence returns the offending fragment, clipped to a displayable size.
func evidence(code string, loc []int) string {
	start, end := loc[0], loc[1]
	if end-start > 120 {
		end = start + 120
	}
	return code[start:end]
}

func lineOf(lines []string, offset int) int {
	pos := 0
	for i, l := range lines {
		pos += len(l) + 1
		if offset < pos {
			return i + 1
		}
	}
	return len(lines)
}
