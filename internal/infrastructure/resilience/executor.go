package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// StateListener is notified after every breaker transition.
type StateListener func(from, to domain.BreakerState)

// Executor runs provider calls with retry and backoff inside one shared circuit
// breaker. Every provider adapter of a process must share the same instance.
type Executor struct {
	cfg       Config
	breaker   *gobreaker.CircuitBreaker[any]
	limiter   *rate.Limiter
	listeners []StateListener

	mu          sync.Mutex
	nextRetryAt time.Time
}

// excluded marks an outcome the breaker counts as neither success nor failure:
// the caller went away, or the classifier does not blame the provider.
type excluded struct {
	err error
}

func (x *excluded) Error() string { return x.err.Error() }
func (x *excluded) Unwrap() error { return x.err }

func NewExecutor(cfg Config, listeners ...StateListener) *Executor {
	e := &Executor{
		cfg:       cfg.normalize(),
		listeners: listeners,
	}
	if e.cfg.RateLimitRPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(e.cfg.RateLimitRPS), e.cfg.RateLimitBurst)
	}
	if e.cfg.BreakerEnabled {
		e.breaker = gobreaker.NewCircuitBreaker[any](e.breakerSettings())
	}
	return e
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("resilience: rate limit wait for %s: %w", op, err)
		}
	}

	if e.breaker == nil {
		return e.executeWithRetry(ctx, op, fn, classifier)
	}
	// Nothing reaches the provider with a dead context, so the breaker never sees it.
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := e.breaker.Execute(func() (any, error) {
		callErr := e.executeWithRetry(ctx, op, fn, classifier)
		return nil, breakerOutcome(callErr, classifier)
	})
	var skip *excluded
	if errors.As(err, &skip) {
		return skip.err
	}
	if IsCircuitOpen(err) {
		slog.Debug("circuit_breaker_short_circuit", "operation", op, "state", e.breaker.State().String())
	}
	return err
}

// breakerOutcome decides how a finished call counts. A deadline that expired
// while the provider was working is a failure whatever the classifier says; a
// hanging provider must trip the breaker like a failing one.
func breakerOutcome(err error, classifier ErrorClassifier) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, context.Canceled), !classifier(err).RecordFailure:
		return &excluded{err: err}
	default:
		return err
	}
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	maxAttempts := e.cfg.RetryMaxAttempts
	backoff := e.cfg.RetryInitialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		class := classifier(err)
		if !class.Retryable || attempt == maxAttempts {
			return err
		}

		wait := min(backoff, e.cfg.RetryMaxBackoff)
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		backoff = min(time.Duration(float64(backoff)*e.cfg.RetryMultiplier), e.cfg.RetryMaxBackoff)
	}

	return nil
}

func (e *Executor) breakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "provider",
		MaxRequests: e.cfg.BreakerSuccessThreshold,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= e.cfg.BreakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		IsExcluded: func(err error) bool {
			var skip *excluded
			return errors.As(err, &skip)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			e.mu.Lock()
			if to == gobreaker.StateOpen {
				e.nextRetryAt = time.Now().Add(e.cfg.BreakerOpenTimeout)
			} else {
				e.nextRetryAt = time.Time{}
			}
			e.mu.Unlock()

			slog.Warn("circuit_breaker_state_change", "breaker", name, "from", from.String(), "to", to.String())
			for _, listener := range e.listeners {
				listener(toBreakerState(from), toBreakerState(to))
			}
		},
	}
}

// CircuitState returns a snapshot of the shared breaker.
func (e *Executor) CircuitState() domain.CircuitState {
	if e.breaker == nil {
		return domain.CircuitState{State: domain.BreakerClosed}
	}
	state := e.breaker.State()
	counts := e.breaker.Counts()

	e.mu.Lock()
	next := e.nextRetryAt
	e.mu.Unlock()
	if state != gobreaker.StateOpen {
		next = time.Time{}
	}

	return domain.CircuitState{
		State:                toBreakerState(state),
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		NextRetryAt:          next,
	}
}

func toBreakerState(state gobreaker.State) domain.BreakerState {
	switch state {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
