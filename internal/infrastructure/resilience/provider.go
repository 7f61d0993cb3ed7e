package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// ClassifyStatus is the shared policy for provider HTTP status codes: throttling and
// server faults are retried and count against the breaker, client errors do neither.
func ClassifyStatus(statusCode int) ErrorClassification {
	if RetryableHTTPStatus(statusCode) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: false}
}

// ClassifyTransport covers errors that carry no HTTP status. An expired deadline
// is the provider's fault and is recorded; a cancelled caller is not.
func ClassifyTransport(err error) ErrorClassification {
	if errors.Is(err, context.Canceled) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: true}
}

func RetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ProviderError maps a failed provider call onto the domain error kinds: deadlines
// become ErrTimeout, everything else ErrProviderUnavailable.
func ProviderError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTimeout) || domain.IsKind(err, domain.ErrProviderUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTimeout, operation, err)
	}
	return domain.WrapError(domain.ErrProviderUnavailable, operation, err)
}
