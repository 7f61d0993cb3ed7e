package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// Coordinator runs routing, execution and verification under two timeout budgets
// and always produces an answer.
type Coordinator struct {
	degradation *DegradationController
	executors   *TaskExecutors
	verifier    *AnswerVerifier
	observer    ports.PipelineObserver
	opts        PipelineOptions
}

func NewCoordinator(
	degradation *DegradationController,
	executors *TaskExecutors,
	verifier *AnswerVerifier,
	observer ports.PipelineObserver,
	opts PipelineOptions,
) *Coordinator {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Coordinator{
		degradation: degradation,
		executors:   executors,
		verifier:    verifier,
		observer:    observer,
		opts:        opts.Normalize(),
	}
}

// Answer never blocks past the overall timeout. Work still running at the deadline
// is abandoned and its result discarded.
func (c *Coordinator) Answer(ctx context.Context, q domain.Query, allow domain.AllowSet) *domain.Answer {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.Coordinator.OverallTimeout)
	defer cancel()

	progress := &answerProgress{}
	trace := &traceLog{}
	done := make(chan *domain.Answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("pipeline_panic", "panic", r)
				done <- nil
			}
		}()
		done <- c.run(ctx, q, allow, progress, trace)
	}()

	var answer *domain.Answer
	select {
	case answer = <-done:
	case <-ctx.Done():
		slog.Warn("answer_timeout", "elapsed_ms", time.Since(start).Milliseconds())
		answer = timeoutAnswer(progress.Best())
	}
	if answer == nil {
		answer = timeoutAnswer(progress.Best())
	}

	answer.Trace = trace.Snapshot()
	answer = c.verifier.Verify(answer, allow)
	if q.Strict {
		answer = c.verifier.Strict(answer)
	}
	c.observer.ObserveAnswer(answer, time.Since(start))
	return answer
}

func (c *Coordinator) run(ctx context.Context, q domain.Query, allow domain.AllowSet, progress *answerProgress, trace *traceLog) *domain.Answer {
	if allow.Len() == 0 {
		trace.Add("empty_allow_set")
		return noConfidentMatch(domain.TaskQAAboutDoc, "There are no documents available in this scope.")
	}

	degraded, reason := c.degradation.Degraded()
	router := c.degradation.Router(degraded)
	trace.Add("router:" + router.Name())

	decision, err := runBounded(ctx, c.opts.Coordinator.StrategyTimeout, func(ctx context.Context) (domain.RoutingDecision, error) {
		return router.Route(ctx, q, allow), nil
	})
	if err != nil {
		slog.Warn("router_fail_open", "error", err)
		decision = failOpenDecision(c.opts.Router)
	}

	if decision.RequiresClarification && q.Scope.MultiDocument() {
		trace.Add("clarify")
		return &domain.Answer{
			Text:                  decision.ClarifyingQuestion,
			Citations:             []domain.Citation{},
			Task:                  decision.Task,
			Confidence:            decision.Confidence,
			Reason:                domain.ReasonAmbiguousScope,
			RequiresClarification: true,
			ClarifyingQuestion:    decision.ClarifyingQuestion,
			SuggestedFilters:      decision.SuggestedFilters,
		}
	}

	req := execRequest{query: q, allow: allow, degraded: degraded, reason: reason}
	primary := BuildTask(decision, q, allow, c.opts)
	answer := c.execute(ctx, primary, c.secondaries(decision, primary, q, allow), req, progress, trace)

	if decision.Reason == string(domain.ReasonRouterFailOpen) && answer.Reason == domain.ReasonNone {
		answer.Reason = domain.ReasonRouterFailOpen
	}
	if degraded {
		answer.Degraded = true
		if answer.Reason == domain.ReasonNone {
			answer.Reason = reason
		}
	}
	if answer.Task == "" {
		answer.Task = primary.Type()
	}
	return answer
}

func (c *Coordinator) secondaries(decision domain.RoutingDecision, primary domain.Task, q domain.Query, allow domain.AllowSet) []domain.Task {
	out := make([]domain.Task, 0, len(decision.Alternates))
	seen := map[domain.TaskType]struct{}{primary.Type(): {}}
	for _, alt := range decision.Alternates {
		if len(out) >= c.opts.Coordinator.MaxSecondary {
			break
		}
		task := BuildTask(domain.RoutingDecision{Task: alt}, q, allow, c.opts)
		if _, dup := seen[task.Type()]; dup {
			continue
		}
		seen[task.Type()] = struct{}{}
		out = append(out, task)
	}
	return out
}

// execute runs the primary executor alongside at most MaxSecondary secondaries and
// keeps the primary answer unless it is weak and a secondary is not.
func (c *Coordinator) execute(
	ctx context.Context,
	primary domain.Task,
	secondaries []domain.Task,
	req execRequest,
	progress *answerProgress,
	trace *traceLog,
) *domain.Answer {
	timeout := c.opts.Coordinator.StrategyTimeout
	trace.Add("executor:" + string(primary.Type()))

	primaryDone := make(chan *domain.Answer, 1)
	go func() {
		primaryReq := req
		primaryReq.progress = progress
		answer, err := runBounded(ctx, timeout, func(ctx context.Context) (*domain.Answer, error) {
			return c.executors.Execute(ctx, primary, primaryReq), nil
		})
		if err != nil {
			slog.Warn("strategy_timeout", "task", string(primary.Type()), "error", err)
			answer = partialAnswer(progress.Best())
		}
		primaryDone <- answer
	}()

	results := make([]*domain.Answer, len(secondaries))
	if len(secondaries) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(c.opts.Coordinator.MaxSecondary, 1))
		for i, task := range secondaries {
			trace.Add("secondary:" + string(task.Type()))
			g.Go(func() error {
				answer, err := runBounded(gctx, timeout, func(ctx context.Context) (*domain.Answer, error) {
					return c.executors.Execute(ctx, task, req), nil
				})
				if err == nil {
					results[i] = answer
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	answer := <-primaryDone
	if answer == nil || weakAnswer(answer) {
		for i, alt := range results {
			if alt != nil && !weakAnswer(alt) {
				trace.Add("selected:" + string(secondaries[i].Type()))
				return alt
			}
		}
	}
	if answer == nil {
		return timeoutAnswer(nil)
	}
	return answer
}

func weakAnswer(a *domain.Answer) bool {
	return a == nil || a.Degraded || a.Partial || a.Reason == domain.ReasonNoConfidentMatch
}

// partialAnswer tags an interim answer after a strategy timeout.
func partialAnswer(best *domain.Answer) *domain.Answer {
	if best == nil {
		return nil
	}
	best.Partial = true
	best.Degraded = true
	best.Reason = domain.ReasonTimeout
	return best
}

// timeoutAnswer returns the best interim answer or a fixed notice.
func timeoutAnswer(best *domain.Answer) *domain.Answer {
	if best != nil {
		return partialAnswer(best)
	}
	return &domain.Answer{
		Text:       "I could not finish answering within the time limit. Please try again or narrow the question.",
		Citations:  []domain.Citation{},
		Task:       domain.TaskQAAboutDoc,
		Degraded:   true,
		Partial:    true,
		Reason:     domain.ReasonTimeout,
		Confidence: 0,
	}
}
