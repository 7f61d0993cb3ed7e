package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/resilience"
)

func classifyNATSError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{RecordFailure: true}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	class := classifyNATSError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}

const (
	kindInvalidInput = "invalid_input"
	kindUnauthorized = "unauthorized"
	kindNotFound     = "not_found"
	kindTimeout      = "timeout"
	kindTemporary    = "temporary"
)

var replyKinds = []struct {
	kind string
	err  error
}{
	{kindInvalidInput, domain.ErrInvalidInput},
	{kindUnauthorized, domain.ErrUnauthorized},
	{kindNotFound, domain.ErrDocumentNotFound},
	{kindTimeout, domain.ErrTimeout},
}

func encodeError(err error) *replyError {
	for _, k := range replyKinds {
		if domain.IsKind(err, k.err) {
			return &replyError{Kind: k.kind, Message: err.Error()}
		}
	}
	return &replyError{Kind: kindTemporary, Message: err.Error()}
}

func decodeError(op string, e *replyError) error {
	cause := errors.New(e.Message)
	for _, k := range replyKinds {
		if k.kind == e.Kind {
			return domain.WrapError(k.err, op, cause)
		}
	}
	return domain.WrapError(domain.ErrTemporary, op, cause)
}
