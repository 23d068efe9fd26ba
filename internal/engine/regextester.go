package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// RegexEngine tests a pattern against sample text. The compound input uses
// the wire format "pattern|||sampleText|||flags" with flags optional; fewer
// than two segments is rejected with a usage error.
type RegexEngine struct{}

func NewRegexEngine() *RegexEngine { return &RegexEngine{} }

// regexMatchCap bounds global-match iteration as a second line of defense
// behind the zero-length-match guard.
const regexMatchCap = 1000

type regexMatch struct {
	Text   string   `json:"text"`
	Offset int      `json:"offset"`
	Groups []string `json:"groups,omitempty"`
}

func (e *RegexEngine) Execute(ctx context.Context, req *Request) *Result {
	start := time.Now()

	segments := strings.SplitN(req.Code, "|||", 3)
	if len(segments) < 2 {
		return failure(start, `invalid input format: expected "pattern|||sampleText|||flags" (flags optional)`)
	}

	pattern, sample := segments[0], segments[1]
	flags := ""
	if len(segments) == 3 {
		flags = segments[2]
	}

	opts, global, err := parseFlags(flags)
	if err != nil {
		return failure(start, err.Error())
	}

	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return failure(start, "pattern does not compile: "+err.Error())
	}
	re.MatchTimeout = 2 * time.Second

	matches, err := collectMatches(re, sample, global)
	if err != nil {
		return failure(start, "matching failed: "+err.Error())
	}

	var b strings.Builder
	if len(matches) == 0 {
		b.WriteString("no matches")
	}
	for i, m := range matches {
		fmt.Fprintf(&b, "match %d: %q at offset %d", i+1, m.Text, m.Offset)
		if len(m.Groups) > 0 {
			fmt.Fprintf(&b, " groups=%q", m.Groups)
		}
		b.WriteByte('\n')
	}

	return &Result{
		Success:  true,
		Output:   b.String(),
		Duration: since(start),
		Metadata: map[string]any{
			"pattern":     pattern,
			"flags":       flags,
			"match_count": len(matches),
			"matches":     matches,
		},
	}
}

// collectMatches iterates matches, guarding global iteration against
// zero-length-match infinite loops: a zero-length match never stalls the
// scan position.
func collectMatches(re *regexp2.Regexp, sample string, global bool) ([]regexMatch, error) {
	matches := make([]regexMatch, 0, 4)

	m, err := re.FindStringMatch(sample)
	if err != nil {
		return nil, err
	}

	lastIndex := -1
	for m != nil && len(matches) < regexMatchCap {
		if m.Length == 0 && m.Index == lastIndex {
			break
		}
		lastIndex = m.Index

		match := regexMatch{Text: m.String(), Offset: m.Index}
		groups := m.Groups()
		for _, g := range groups[1:] {
			match.Groups = append(match.Groups, g.String())
		}
		matches = append(matches, match)

		if !global {
			break
		}
		m, err = re.FindNextMatch(m)
		if err != nil {
			return nil, err
		}
	}
	return matches, nil
}

func parseFlags(flags string) (regexp2.RegexOptions, bool, error) {
	opts := regexp2.RegexOptions(0)
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'x':
			opts |= regexp2.IgnorePatternWhitespace
		default:
			return 0, false, fmt.Errorf("unknown flag %q (supported: g, i, m, s, x)", string(f))
		}
	}
	return opts, global, nil
}

// ValidateCode checks that the wire format is present and the pattern
// compiles.
func (e *RegexEngine) ValidateCode(code string) bool {
	segments := strings.SplitN(code, "|||", 3)
	if len(segments) < 2 {
		return false
	}
	_, err := regexp2.Compile(segments[0], 0)
	return err == nil
}

func (e *RegexEngine) Cleanup(string) {}
