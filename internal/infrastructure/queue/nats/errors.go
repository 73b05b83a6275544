package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/infrastructure/resilience"
)

// brokerDown reports errors that clear once the connection or the stream
// leader comes back.
func brokerDown(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrNoStreamResponse)
}

// misconfigured reports errors no retry can fix: the stream is missing or
// the task does not fit the server limits.
func misconfigured(err error) bool {
	return errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrBadSubject) ||
		errors.Is(err, nats.ErrMaxPayload)
}

func classifyPublish(err error) resilience.ErrorClassification {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case brokerDown(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case misconfigured(err):
		return resilience.ErrorClassification{}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// publishError maps a failed publish onto a domain kind so the pipeline can
// tell a broker outage from a broken deployment.
func publishError(task domain.StageTask, err error) error {
	op := "publish " + string(task.Stage)
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrTemporary), errors.Is(err, context.Canceled):
		return err
	case resilience.IsCircuitOpen(err), brokerDown(err), errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTemporary, op, err)
	case misconfigured(err):
		return domain.WrapError(domain.ErrConfiguration, op, err)
	default:
		return err
	}
}
