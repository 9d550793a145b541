package queue

import "time"

// RetryPolicy stage-level retry inside one queue
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultRetryPolicy 3 attempts, 5s, 10s between them, capped at 5m
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Second, BackoffMax: 5 * time.Minute}
}

// Exhausted attempts is the number of runs already made
func (p RetryPolicy) Exhausted(attempts int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	return attempts >= max
}

// Delay backoff before the retry that follows the given failed attempt (1-based):
// base, 2*base, 4*base ... capped at BackoffMax
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
