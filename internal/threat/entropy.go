package threat

import (
	"fmt"
	"math"
	"regexp"
)

// Shannon entropy above this many bits per character reads as compressed or
// obfuscated content rather than hand-written source.
const entropyThreshold = 4.5

var base64Re = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)

// analyzeEntropy flags high-entropy source and base64-like runs as two
// independent violations.
func analyzeEntropy(code string) []Violation {
	var violations []Violation

	if len(code) >= 50 {
		if e := shannonEntropy(code); e > entropyThreshold {
			violations = append(violations, Violation{
				Kind:       KindMaliciousCode,
				Category:   "entropy",
				Severity:   SeverityMedium.String(),
				Message:    fmt.Sprintf("high entropy content (%.2f bits/char)", e),
				Suggestion: "submit readable source, not packed or encoded payloads",
			})
		}
	}

	if loc := base64Re.FindStringIndex(code); loc != nil {
		violations = append(violations, Violation{
			Kind:       KindMaliciousCode,
			Category:   "encoding",
			Severity:   SeverityMedium.String(),
			Message:    "base64-like encoded content",
			Evidence:   evidence(code, loc),
			Suggestion: "decode payloads before submission so they can be reviewed",
		})
	}

	return violations
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}

	entropy := 0.0
	for _, n := range freq {
		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
