package normalize

import (
	"sync"

	"polyglot-sandbox/internal/policy"
)

// Analytics keeps rolling counters over normalized outcomes: totals by
// failure class, by language, and by severity, plus the data needed for a
// success rate and the average suggestion count per failure. Safe for
// concurrent use.
type Analytics struct {
	mu sync.Mutex

	total       int64
	failures    int64
	suggestions int64

	byClass    map[Class]int64
	byLanguage map[policy.Language]int64
	bySeverity map[string]int64
}

func NewAnalytics() *Analytics {
	return &Analytics{
		byClass:    make(map[Class]int64),
		byLanguage: make(map[policy.Language]int64),
		bySeverity: make(map[string]int64),
	}
}

// Record folds one outcome into the counters. Severity is taken from the
// outcome's risk metadata when present.
func (a *Analytics) Record(lang policy.Language, out Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if out.Class == ClassNone {
		return
	}

	a.failures++
	a.byClass[out.Class]++
	a.byLanguage[lang]++
	a.suggestions += int64(len(out.Suggestions))

	if out.Result != nil {
		if level, ok := out.Result.Metadata["risk_level"].(string); ok {
			a.bySeverity[level]++
		}
	}
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Total                 int64                    `json:"total"`
	Failures              int64                    `json:"failures"`
	SuccessRate           float64                  `json:"success_rate"`
	AvgSuggestionsPerFail float64                  `json:"avg_suggestions_per_failure"`
	ByClass               map[Class]int64          `json:"by_class"`
	ByLanguage            map[policy.Language]int64 `json:"by_language"`
	BySeverity            map[string]int64         `json:"by_severity"`
}

// Snapshot returns a copy of the current counters.
func (a *Analytics) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Total:      a.total,
		Failures:   a.failures,
		ByClass:    make(map[Class]int64, len(a.byClass)),
		ByLanguage: make(map[policy.Language]int64, len(a.byLanguage)),
		BySeverity: make(map[string]int64, len(a.bySeverity)),
	}
	for k, v := range a.byClass {
		s.ByClass[k] = v
	}
	for k, v := range a.byLanguage {
		s.ByLanguage[k] = v
	}
	for k, v := range a.bySeverity {
		s.BySeverity[k] = v
	}

	if a.total > 0 {
		s.SuccessRate = float64(a.total-a.failures) / float64(a.total)
	}
	if a.failures > 0 {
		s.AvgSuggestionsPerFail = float64(a.suggestions) / float64(a.failures)
	}
	return s
}
