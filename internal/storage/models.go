package storage

import "time"

// Execution represents a stored execution audit record.
type Execution struct {
	ID          string     `json:"id" db:"id"`
	SessionID   string     `json:"session_id,omitempty" db:"session_id"`
	Language    string     `json:"language" db:"language"`
	CodeHash    string     `json:"code_hash" db:"code_hash"`
	Success     bool       `json:"success" db:"success"`
	Status      string     `json:"status" db:"status"` // completed, cancelled, timeout, error, rejected
	ErrorClass  string     `json:"error_class,omitempty" db:"error_class"`
	Error       string     `json:"error,omitempty" db:"error"`
	Output      string     `json:"output,omitempty" db:"output"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
	RiskLevel   string     `json:"risk_level,omitempty" db:"risk_level"`
	RiskScore   int        `json:"risk_score" db:"risk_score"`
	Violations  int        `json:"violations" db:"violations"`
	RequestIP   string     `json:"request_ip" db:"request_ip"`
	APIKeyHash  string     `json:"api_key_hash,omitempty" db:"api_key_hash"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ViolationRecord stores one scan violation for audit.
type ViolationRecord struct {
	ID          string    `json:"id" db:"id"`
	ExecutionID string    `json:"execution_id" db:"execution_id"`
	Kind        string    `json:"kind" db:"kind"`
	Category    string    `json:"category" db:"category"`
	Severity    string    `json:"severity" db:"severity"`
	Message     string    `json:"message" db:"message"`
	Evidence    string    `json:"evidence,omitempty" db:"evidence"`
	Line        int       `json:"line,omitempty" db:"line"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ExecutionFilter provides criteria for querying executions.
type ExecutionFilter struct {
	Language string
	Status   string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}
