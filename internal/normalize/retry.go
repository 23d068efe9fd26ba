package normalize

import "time"

// RetryPolicy controls retries for retryable failure classes. Delays grow
// exponentially from BaseDelay, capped at MaxDelay; non-retryable classes are
// surfaced immediately regardless of attempt count.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Delay returns the backoff before attempt n (0-based): BaseDelay * 2^n,
// capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether attempt n (0-based, already executed) may be
// followed by another try.
func (p RetryPolicy) ShouldRetry(class Class, attempt int) bool {
	return class.Retryable() && attempt+1 < p.MaxAttempts
}
