package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// runBounded runs fn under its own deadline and returns as soon as either fn finishes
// or the deadline passes. An abandoned fn keeps running in the background; its result
// is discarded.
func runBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{val: zero, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(callCtx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-callCtx.Done():
		var zero T
		return zero, domain.WrapError(domain.ErrTimeout, "bounded call", callCtx.Err())
	}
}

// answerProgress keeps the best interim answer of the running primary executor.
type answerProgress struct {
	mu   sync.Mutex
	best *domain.Answer
}

func (p *answerProgress) Offer(answer *domain.Answer) {
	if p == nil || answer == nil {
		return
	}
	p.mu.Lock()
	p.best = cloneAnswer(answer)
	p.mu.Unlock()
}

func (p *answerProgress) Best() *domain.Answer {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneAnswer(p.best)
}

type traceLog struct {
	mu    sync.Mutex
	steps []string
}

func (t *traceLog) Add(step string) {
	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

func (t *traceLog) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

func cloneAnswer(a *domain.Answer) *domain.Answer {
	if a == nil {
		return nil
	}
	out := *a
	out.Citations = append([]domain.Citation(nil), a.Citations...)
	out.Trace = append([]string(nil), a.Trace...)
	out.Evidence = append([]string(nil), a.Evidence...)
	out.ListedDocIDs = append([]string(nil), a.ListedDocIDs...)
	out.SuggestedFilters = append([]domain.SuggestedFilter(nil), a.SuggestedFilters...)
	if a.Coverage != nil {
		coverage := *a.Coverage
		coverage.Unsupported = append([]domain.UnsupportedSentence(nil), a.Coverage.Unsupported...)
		out.Coverage = &coverage
	}
	return &out
}
