package usecase

import "time"

// RetryPolicy schedules stage retries. The initial run is attempt 0; retry k
// (1 <= k <= MaxRetries) waits BaseDelay * 2^(k-1) after the failure.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 60 * time.Second}
}

func (p RetryPolicy) Allows(attempt int) bool {
	return attempt >= 1 && attempt <= p.MaxRetries
}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}
