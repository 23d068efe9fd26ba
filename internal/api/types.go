package api

import (
	"time"

	"polyglot-sandbox/internal/controller"
	"polyglot-sandbox/internal/threat"
)

// ExecuteRequest is the API-level request to run code in the sandbox.
type ExecuteRequest struct {
	Code      string         `json:"code"`
	Language  string         `json:"language"`
	SessionID string         `json:"session_id,omitempty"`
	Priority  int            `json:"priority,omitempty"`
	Options   ExecuteOptions `json:"options,omitempty"`
}

// ExecuteOptions are the caller-tunable knobs. The timeout may shorten the
// language's policy ceiling but never extend it.
type ExecuteOptions struct {
	Timeout          Duration `json:"timeout,omitempty"`
	MemoryLimitBytes int64    `json:"memory_limit_bytes,omitempty"`
	Packages         []string `json:"packages,omitempty"`
	SampleData       string   `json:"sample_data,omitempty"`
	EnableNetworking bool     `json:"enable_networking,omitempty"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

/// ExecuteResponse is the uniform result contract: always returned for
// well-formed requests, whatever the language or failure mode.
type ExecuteResponse struct {
	ID           string         `json:"id"`
	Success      bool           `json:"success"`
	Output       string         `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorClass   string         `json:"error_class,omitempty"`
	Retryable    bool           `json:"retryable"`
	Suggestions  []string       `json:"suggestions,omitempty"`
	VisualOutput string         `json:"visual_output,omitempty"`
	Duration     string         `json:"duration"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AnalyzeRequest asks for a threat scan without executing anything.
type AnalyzeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// AnalyzeResponse is the scan verdict.
type AnalyzeResponse struct {
	threat.Result
}

// ValidateRequest asks for a cheap syntactic pre-check.
type ValidateRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type ValidateResponse struct {
	Valid bool `json:"valid"`
}

// QueueResponse is the controller introspection view.
type QueueResponse struct {
	Active           int               `json:"active"`
	ActiveByLanguage map[string]int    `json:"active_by_language"`
	QueueLength      int               `json:"queue_length"`
	NextInLine       *controller.Info  `json:"next_in_line,omitempty"`
	Memory           map[string]uint64 `json:"memory"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string   `json:"status"`
	Database  bool     `json:"database"`
	Languages []string `json:"languages"`
	Uptime    string   `json:"uptime"`
}
