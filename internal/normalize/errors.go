package normalize

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking. One per failure class in the
// taxonomy.
var (
	ErrMaliciousCode          = errors.New("malicious code pattern detected")
	ErrResourceLimit          = errors.New("resource limit exceeded")
	ErrTimeout                = errors.New("execution timed out")
	ErrUnauthorizedCapability = errors.New("capability not permitted by policy")
	ErrEngineRuntime          = errors.New("engine runtime error")
	ErrFormat                 = errors.New("malformed input")
	ErrUnsupportedLanguage    = errors.New("unsupported language")
)

// Class labels a normalized failure. The zero value means success.
type Class string

const (
	ClassNone          Class = ""
	ClassMaliciousCode Class = "malicious_code_pattern"
	ClassResourceLimit Class = "resource_limit_exceeded"
	ClassTimeout       Class = "execution_timeout"
	ClassUnauthorized  Class = "unauthorized_capability"
	ClassEngineRuntime Class = "engine_runtime_error"
	ClassFormat        Class = "format_error"
	ClassUnsupported   Class = "unsupported_language"
)

// Err returns the sentinel for a class so callers can use errors.Is.
func (c Class) Err() error {
	switch c {
	case ClassMaliciousCode:
		return ErrMaliciousCode
	case ClassResourceLimit:
		return ErrResourceLimit
	case ClassTimeout:
		return ErrTimeout
	case ClassUnauthorized:
		return ErrUnauthorizedCapability
	case ClassEngineRuntime:
		return ErrEngineRuntime
	case ClassFormat:
		return ErrFormat
	case ClassUnsupported:
		return ErrUnsupportedLanguage
	}
	return nil
}

// Retryable reports whether a failure class may be retried. Timeouts and
// generic engine failures are transient; everything else is deterministic and
// retrying would only repeat the rejection.
func (c Class) Retryable() bool {
	return c == ClassTimeout || c == ClassEngineRuntime
}

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is an execution timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsMalicious returns true if the error is a malicious-code rejection.
func IsMalicious(err error) bool {
	return errors.Is(err, ErrMaliciousCode)
}

// IsRetryable reports whether the error's class permits a retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrEngineRuntime)
}
