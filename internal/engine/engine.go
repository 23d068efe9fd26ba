// Package engine contains the per-language execution engines behind a single
// uniform contract. Engines never propagate failures as errors: every
// internal failure becomes a Result with Success false and a human-readable
// Error, so nothing below the controller can throw past it.
package engine

import (
	"context"
	"time"

	"polyglot-sandbox/internal/policy"
)

// Request is one code execution submission. Immutable once submitted.
type Request struct {
	Code      string          `json:"code"`
	Language  policy.Language `json:"language"`
	SessionID string          `json:"session_id,omitempty"`
	Options   Options         `json:"options"`
}

// Options carries per-request execution knobs. Zero values defer to the
// language policy.
type Options struct {
	Timeout          time.Duration `json:"timeout,omitempty"`
	MemoryLimitBytes int64         `json:"memory_limit_bytes,omitempty"`
	Packages         []string      `json:"packages,omitempty"`
	SampleData       string        `json:"sample_data,omitempty"`
	EnableNetworking bool          `json:"enable_networking,omitempty"`
}

// Result is the uniform execution outcome. Created once, never mutated after
// return. Duration is always non-negative.
type Result struct {
	Success      bool           `json:"success"`
	Output       string         `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	VisualOutput string         `json:"visual_output,omitempty"`
	Duration     time.Duration  `json:"duration"`
	MemoryBytes  int64          `json:"memory_bytes,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Engine is the per-language capability set.
type Engine interface {
	// Execute runs the request and always returns a Result, never panics
	// and never leaks an error past the Result contract.
	Execute(ctx context.Context, req *Request) *Result

	// ValidateCode is a cheap syntactic pre-check with no side effects,
	// independent of the threat analyzer.
	ValidateCode(code string) bool

	// Cleanup releases engine-held resources for one session, or for all
	// sessions when sessionID is empty. Safe to call repeatedly.
	Cleanup(sessionID string)
}

func failure(start time.Time, msg string) *Result {
	return &Result{Success: false, Error: msg, Duration: since(start)}
}

func since(start time.Time) time.Duration {
	d := time.Since(start)
	if d < 0 {
		return 0
	}
	return d
}

func truncate(s string, maxBytes int64) string {
	if maxBytes <= 0 || int64(len(s)) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
