package resilience

import "time"

// Upper bounds for in-call retries. Stage-level retries belong to the pipeline.
const (
	maxRetryAttempts = 5
	maxRetryBackoff  = 30 * time.Second
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// ProviderDefaults is the policy for LLM generate calls.
func ProviderDefaults() Config {
	return Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     4 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// PublishDefaults is the policy for stage task publishes: short backoff and
// a breaker that half-opens after a few seconds.
func PublishDefaults() Config {
	return Config{
		RetryMaxAttempts:    4,
		RetryInitialBackoff: 50 * time.Millisecond,
		RetryMaxBackoff:     time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      20,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      5 * time.Second,
		BreakerHalfOpenMaxCalls: 3,
	}
}

// Overrides carries operator settings. Zero fields keep the preset value.
type Overrides struct {
	RetryMaxAttempts        int
	BreakerDisabled         bool
	BreakerMinRequests      int
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls int
}

// Apply layers o over c and normalizes the result.
func (c Config) Apply(o Overrides) Config {
	out := c
	if o.BreakerDisabled {
		out.BreakerEnabled = false
	}
	if o.RetryMaxAttempts > 0 {
		out.RetryMaxAttempts = o.RetryMaxAttempts
	}
	if o.BreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(o.BreakerMinRequests)
	}
	if o.BreakerFailureRatio > 0 {
		out.BreakerFailureRatio = o.BreakerFailureRatio
	}
	if o.BreakerOpenTimeout > 0 {
		out.BreakerOpenTimeout = o.BreakerOpenTimeout
	}
	if o.BreakerHalfOpenMaxCalls > 0 {
		out.BreakerHalfOpenMaxCalls = uint32(o.BreakerHalfOpenMaxCalls)
	}
	return out.normalize()
}

// normalize fills unset fields from ProviderDefaults and clamps the retry
// budget to the in-call bounds.
func (c Config) normalize() Config {
	out := c
	def := ProviderDefaults()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	out.RetryMaxAttempts = min(out.RetryMaxAttempts, maxRetryAttempts)
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	out.RetryMaxBackoff = min(out.RetryMaxBackoff, maxRetryBackoff)
	out.RetryInitialBackoff = min(out.RetryInitialBackoff, out.RetryMaxBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	out.BreakerHalfOpenMaxCalls = min(out.BreakerHalfOpenMaxCalls, out.BreakerMinRequests)

	return out
}
