package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

// ResolveKey picks the per-document key when present, else the configured one.
func ResolveKey(configured, override string) (string, error) {
	if key := strings.TrimSpace(override); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	return "", domain.WrapError(domain.ErrConfiguration, "resolve api key", errors.New("api key is not configured"))
}

// NewLimiter returns a limiter admitting perMinute calls, or nil for no limit.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
}

// Wait blocks until the limiter admits a call. A nil limiter never blocks.
func Wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return domain.WrapError(domain.ErrTemporary, "wait for rate limiter", err)
	}
	return nil
}

// ClassifyStatus maps a provider HTTP status onto a domain error kind.
func ClassifyStatus(operation string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.WrapError(domain.ErrUnauthorized, operation, err)
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return domain.WrapError(domain.ErrInvalidInput, operation, err)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return domain.WrapError(domain.ErrTimeout, operation, err)
	case status == http.StatusTooManyRequests, status >= 500:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	default:
		return domain.WrapError(domain.ErrProvider, operation, err)
	}
}

// ClassifyTransport handles failures that never produced an HTTP status.
func ClassifyTransport(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTimeout, operation, err)
	default:
		return domain.WrapError(domain.ErrUnreachable, operation, err)
	}
}
