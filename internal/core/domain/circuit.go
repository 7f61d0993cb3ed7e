package domain

import "time"

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitState is a point-in-time snapshot of the shared provider breaker.
type CircuitState struct {
	State                BreakerState `json:"state"`
	ConsecutiveFailures  uint32       `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32       `json:"consecutive_successes"`
	NextRetryAt          time.Time    `json:"next_retry_at,omitzero"`
}

func (s CircuitState) Open() bool {
	return s.State == BreakerOpen
}
