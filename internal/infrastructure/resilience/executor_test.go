package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/sony/gobreaker/v2"
)

func alwaysRecord(error) ErrorClassification {
	return ErrorClassification{Retryable: false, RecordFailure: true}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "embed", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "generate", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestCircuitLifecycleClosedOpenHalfOpenClosed(t *testing.T) {
	var transitions []domain.BreakerState
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 3,
		BreakerOpenTimeout:      30 * time.Millisecond,
	}, func(_, to domain.BreakerState) {
		transitions = append(transitions, to)
	})

	errDown := errors.New("provider down")
	for i := 0; i < 5; i++ {
		err := exec.Execute(context.Background(), "generate", func(context.Context) error {
			return errDown
		}, alwaysRecord)
		if !errors.Is(err, errDown) {
			t.Fatalf("expected provider error on call %d, got %v", i, err)
		}
	}

	state := exec.CircuitState()
	if state.State != domain.BreakerOpen {
		t.Fatalf("expected open after 5 consecutive failures, got %s", state.State)
	}
	if state.NextRetryAt.IsZero() {
		t.Fatalf("expected next retry time while open")
	}

	err := exec.Execute(context.Background(), "generate", func(context.Context) error {
		t.Fatalf("open circuit must not call the provider")
		return nil
	}, alwaysRecord)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := exec.CircuitState().State; got != domain.BreakerHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", got)
	}

	for i := 0; i < 3; i++ {
		if err := exec.Execute(context.Background(), "generate", func(context.Context) error {
			return nil
		}, alwaysRecord); err != nil {
			t.Fatalf("half-open probe %d failed: %v", i, err)
		}
		want := domain.BreakerHalfOpen
		if i == 2 {
			want = domain.BreakerClosed
		}
		if got := exec.CircuitState().State; got != want {
			t.Fatalf("after %d successes expected %s, got %s", i+1, want, got)
		}
	}

	want := []domain.BreakerState{domain.BreakerOpen, domain.BreakerHalfOpen, domain.BreakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, transitions)
		}
	}
}

func TestFourFailuresKeepCircuitClosed(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: true})
	errDown := errors.New("provider down")
	for i := 0; i < 4; i++ {
		_ = exec.Execute(context.Background(), "embed", func(context.Context) error { return errDown }, alwaysRecord)
	}
	state := exec.CircuitState()
	if state.State != domain.BreakerClosed {
		t.Fatalf("expected closed, got %s", state.State)
	}
	if state.ConsecutiveFailures != 4 {
		t.Fatalf("expected 4 consecutive failures, got %d", state.ConsecutiveFailures)
	}

	_ = exec.Execute(context.Background(), "embed", func(context.Context) error { return nil }, alwaysRecord)
	if got := exec.CircuitState().ConsecutiveFailures; got != 0 {
		t.Fatalf("success must reset consecutive failures, got %d", got)
	}
}

func TestUnrecordedFailuresDoNotTrip(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: true})
	errBadRequest := errors.New("bad request")
	for i := 0; i < 10; i++ {
		err := exec.Execute(context.Background(), "generate", func(context.Context) error {
			return errBadRequest
		}, func(error) ErrorClassification {
			return ErrorClassification{Retryable: false, RecordFailure: false}
		})
		if !errors.Is(err, errBadRequest) {
			t.Fatalf("expected original error, got %v", err)
		}
	}
	if got := exec.CircuitState().State; got != domain.BreakerClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts: 1,
		RateLimitRPS:     0.001,
		RateLimitBurst:   1,
	})
	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}
	if err := exec.Execute(context.Background(), "embed", fn, nil); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := exec.Execute(ctx, "embed", fn, nil); err == nil {
		t.Fatalf("expected rate limit wait error")
	}
	if calls != 1 {
		t.Fatalf("expected one provider call, got %d", calls)
	}
}

func TestDisabledBreakerReportsClosed(t *testing.T) {
	exec := NewExecutor(Config{BreakerEnabled: false})
	if got := exec.CircuitState().State; got != domain.BreakerClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func blockUntilDeadline(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func callWithDeadline(exec *Executor, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return exec.Execute(ctx, "embed", blockUntilDeadline, ClassifyTransport)
}

func TestTimeoutsOpenCircuit(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: true})

	for i := 0; i < 4; i++ {
		if err := callWithDeadline(exec, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("call %d: expected deadline error, got %v", i, err)
		}
		state := exec.CircuitState()
		if state.ConsecutiveFailures != uint32(i+1) || state.ConsecutiveSuccesses != 0 {
			t.Fatalf("call %d: timeout must count as a failure, got %+v", i, state)
		}
	}
	_ = callWithDeadline(exec, 5*time.Millisecond)

	if got := exec.CircuitState().State; got != domain.BreakerOpen {
		t.Fatalf("expected open after 5 timeouts, got %s", got)
	}
	err := exec.Execute(context.Background(), "embed", func(context.Context) error {
		t.Fatalf("open circuit must not call the provider")
		return nil
	}, ClassifyTransport)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected short circuit, got %v", err)
	}
}

func TestTimeoutInHalfOpenReopens(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 3,
		BreakerOpenTimeout:      30 * time.Millisecond,
	})
	for i := 0; i < 5; i++ {
		_ = callWithDeadline(exec, 2*time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := exec.CircuitState().State; got != domain.BreakerHalfOpen {
		t.Fatalf("expected half-open, got %s", got)
	}

	if err := exec.Execute(context.Background(), "embed", func(context.Context) error { return nil }, ClassifyTransport); err != nil {
		t.Fatalf("first probe failed: %v", err)
	}
	_ = callWithDeadline(exec, 5*time.Millisecond)

	if got := exec.CircuitState().State; got != domain.BreakerOpen {
		t.Fatalf("a timed-out half-open probe must reopen the circuit, got %s", got)
	}
}

func TestCancelledAndClientErrorsAreExcluded(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: true})
	errDown := errors.New("provider down")
	for i := 0; i < 4; i++ {
		_ = exec.Execute(context.Background(), "embed", func(context.Context) error { return errDown }, alwaysRecord)
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := exec.Execute(ctx, "embed", func(context.Context) error {
		cancel()
		return ctx.Err()
	}, ClassifyTransport)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	errBadRequest := errors.New("bad request")
	_ = exec.Execute(context.Background(), "embed", func(context.Context) error { return errBadRequest }, func(error) ErrorClassification {
		return ClassifyStatus(400)
	})

	state := exec.CircuitState()
	if state.ConsecutiveFailures != 4 || state.ConsecutiveSuccesses != 0 {
		t.Fatalf("excluded outcomes must leave the counters alone, got %+v", state)
	}

	_ = exec.Execute(context.Background(), "embed", func(context.Context) error { return errDown }, alwaysRecord)
	if got := exec.CircuitState().State; got != domain.BreakerOpen {
		t.Fatalf("expected open on the fifth real failure, got %s", got)
	}
}

func TestClientErrorsDoNotCloseHalfOpenCircuit(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerSuccessThreshold: 3,
		BreakerOpenTimeout:      30 * time.Millisecond,
	})
	errDown := errors.New("provider down")
	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "embed", func(context.Context) error { return errDown }, alwaysRecord)
	}
	time.Sleep(50 * time.Millisecond)

	errBadRequest := errors.New("bad request")
	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "embed", func(context.Context) error { return errBadRequest }, func(error) ErrorClassification {
			return ClassifyStatus(400)
		})
	}
	if got := exec.CircuitState().State; got != domain.BreakerHalfOpen {
		t.Fatalf("client errors must not count as half-open successes, got %s", got)
	}
}

func TestExpiredContextSkipsBreaker(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 1, BreakerEnabled: true})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	for i := 0; i < 6; i++ {
		_ = exec.Execute(ctx, "embed", func(context.Context) error {
			t.Fatalf("provider must not be called with an expired context")
			return nil
		}, ClassifyTransport)
	}
	if state := exec.CircuitState(); state.State != domain.BreakerClosed || state.ConsecutiveFailures != 0 {
		t.Fatalf("calls that never reached the provider must not count, got %+v", state)
	}
}
