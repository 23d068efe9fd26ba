package threat

import (
	"sync"
	"time"

	"polyglot-sandbox/internal/policy"
)

// LoggedViolation is one entry in the analytics log.
type LoggedViolation struct {
	Language policy.Language `json:"language"`
	Violation
	At time.Time `json:"at"`
}

// ViolationLog is a bounded, append-only ring buffer of scan findings, kept
// for operator analytics. It tolerates concurrent appends from interleaved
// executions; ordering within the buffer is append order, and the oldest
// entries are evicted once capacity is reached.
type ViolationLog struct {
	mu      sync.Mutex
	entries []LoggedViolation
	next    int
	full    bool
}

// NewViolationLog creates a log holding at most capacity entries.
func NewViolationLog(capacity int) *ViolationLog {
	if capacity < 1 {
		capacity = 1000
	}
	return &ViolationLog{entries: make([]LoggedViolation, capacity)}
}

// Append records a finding, evicting the oldest entry when full.
func (l *ViolationLog) Append(lang policy.Language, v Violation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = LoggedViolation{Language: lang, Violation: v, At: time.Now()}
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

// Len returns the number of retained entries.
func (l *ViolationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Snapshot returns the retained entries, oldest first.
func (l *ViolationLog) Snapshot() []LoggedViolation {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]LoggedViolation, l.next)
		copy(out, l.entries[:l.next])
		return out
	}

	out := make([]LoggedViolation, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}
