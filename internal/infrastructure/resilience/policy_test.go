package resilience

import (
	"testing"
	"time"
)

func TestPresetsDiffer(t *testing.T) {
	provider := ProviderDefaults()
	publish := PublishDefaults()
	if publish.RetryInitialBackoff >= provider.RetryInitialBackoff {
		t.Fatalf("publish backoff %s should be shorter than provider backoff %s", publish.RetryInitialBackoff, provider.RetryInitialBackoff)
	}
	if publish.BreakerOpenTimeout >= provider.BreakerOpenTimeout {
		t.Fatalf("publish breaker should half-open sooner")
	}
	if provider.normalize() != provider || publish.normalize() != publish {
		t.Fatalf("presets must already be normalized")
	}
}

func TestApplyOverrides(t *testing.T) {
	out := ProviderDefaults().Apply(Overrides{
		RetryMaxAttempts:   3,
		BreakerDisabled:    true,
		BreakerOpenTimeout: 5 * time.Second,
	})
	if out.BreakerEnabled || out.RetryMaxAttempts != 3 || out.BreakerOpenTimeout != 5*time.Second {
		t.Fatalf("unexpected config %+v", out)
	}
	if out.BreakerMinRequests != ProviderDefaults().BreakerMinRequests {
		t.Fatalf("zero override must keep preset, got %d", out.BreakerMinRequests)
	}
}

func TestNormalizeClampsRetryBudget(t *testing.T) {
	out := Config{
		RetryMaxAttempts:        50,
		RetryInitialBackoff:     time.Minute,
		RetryMaxBackoff:         10 * time.Minute,
		BreakerMinRequests:      2,
		BreakerHalfOpenMaxCalls: 8,
		BreakerFailureRatio:     3,
	}.normalize()

	if out.RetryMaxAttempts != maxRetryAttempts {
		t.Fatalf("expected attempts clamped to %d, got %d", maxRetryAttempts, out.RetryMaxAttempts)
	}
	if out.RetryMaxBackoff != maxRetryBackoff || out.RetryInitialBackoff != maxRetryBackoff {
		t.Fatalf("expected backoff clamped to %s, got %s/%s", maxRetryBackoff, out.RetryInitialBackoff, out.RetryMaxBackoff)
	}
	if out.BreakerHalfOpenMaxCalls != 2 {
		t.Fatalf("half-open calls must not exceed min requests, got %d", out.BreakerHalfOpenMaxCalls)
	}
	if out.BreakerFailureRatio != ProviderDefaults().BreakerFailureRatio {
		t.Fatalf("expected default failure ratio, got %v", out.BreakerFailureRatio)
	}
	if out.RetryMultiplier != 2.0 {
		t.Fatalf("expected default multiplier, got %v", out.RetryMultiplier)
	}
}
