package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")
	ErrConfiguration    = errors.New("configuration error")
	ErrUnsupportedKind  = errors.New("unsupported file kind")
	ErrFileNotFound     = errors.New("file not found")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrUnreachable      = errors.New("provider unreachable")
	ErrTimeout          = errors.New("timed out")
	ErrProvider         = errors.New("provider error")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

var permanentKinds = []error{
	ErrInvalidInput,
	ErrUnauthorized,
	ErrConfiguration,
	ErrUnsupportedKind,
	ErrDocumentNotFound,
}

// IsRetryable reports whether a stage failure may succeed on a later attempt.
// Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range permanentKinds {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}
