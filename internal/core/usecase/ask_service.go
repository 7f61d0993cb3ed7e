package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

const maxQuestionLength = 4000

// AskService is the request boundary of the pipeline: it validates input, resolves
// the allow set and conversation memory, then hands over to the coordinator.
type AskService struct {
	resolver    ports.ScopeResolver
	coordinator *Coordinator
	memory      ports.MemoryStore
	traces      ports.AnswerTracePublisher
	now         func() time.Time
}

func NewAskService(
	resolver ports.ScopeResolver,
	coordinator *Coordinator,
	memory ports.MemoryStore,
	traces ports.AnswerTracePublisher,
) *AskService {
	return &AskService{
		resolver:    resolver,
		coordinator: coordinator,
		memory:      memory,
		traces:      traces,
		now:         time.Now,
	}
}

func (s *AskService) Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	if err := validateAskRequest(req); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate ask request", err)
	}

	allow, err := s.resolver.AllowedDocumentIDs(ctx, domain.Identity{UserID: req.UserID, OrgID: req.Scope.OrgID}, req.Scope)
	if err != nil {
		if domain.IsKind(err, domain.ErrUnauthorized) || domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrTemporary, "resolve scope", err)
	}

	memory := req.Memory
	if s.memory != nil && req.ConversationID != "" {
		stored, loadErr := s.memory.Load(ctx, req.UserID, req.ConversationID)
		if loadErr != nil {
			slog.Warn("memory_load_failed", "conversation_id", req.ConversationID, "error", loadErr)
		} else {
			memory = mergeMemory(stored, req.Memory)
		}
	}

	start := s.now()
	query := domain.Query{
		Text:   strings.TrimSpace(req.Question),
		Scope:  req.Scope,
		Memory: memory,
		Strict: req.Strict,
	}
	answer := s.coordinator.Answer(ctx, query, allow)

	if s.memory != nil && req.ConversationID != "" {
		next := nextMemory(memory, answer)
		if saveErr := s.memory.Save(ctx, req.UserID, req.ConversationID, next); saveErr != nil {
			slog.Warn("memory_save_failed", "conversation_id", req.ConversationID, "error", saveErr)
		}
	}
	s.publishTrace(ctx, req, answer, s.now().Sub(start))
	return answer, nil
}

func validateAskRequest(req domain.AskRequest) error {
	question := strings.TrimSpace(req.Question)
	switch {
	case question == "":
		return errors.New("question is required")
	case len([]rune(question)) > maxQuestionLength:
		return fmt.Errorf("question exceeds %d characters", maxQuestionLength)
	case !req.Scope.Kind.Valid():
		return fmt.Errorf("unknown scope %q", req.Scope.Kind)
	case strings.TrimSpace(req.Scope.OrgID) == "":
		return errors.New("org_id is required")
	case req.Scope.Kind != domain.ScopeOrg && len(req.Scope.TargetIDs) == 0:
		return fmt.Errorf("scope %s requires target_ids", req.Scope.Kind)
	}
	return nil
}

// mergeMemory prefers what the caller sent and fills gaps from the stored state.
func mergeMemory(stored, sent domain.ConversationMemory) domain.ConversationMemory {
	out := stored
	if len(sent.FocusDocIDs) > 0 {
		out.FocusDocIDs = sent.FocusDocIDs
	}
	if len(sent.LastCitedDocIDs) > 0 {
		out.LastCitedDocIDs = sent.LastCitedDocIDs
	}
	if len(sent.LastListedDocIDs) > 0 {
		out.LastListedDocIDs = sent.LastListedDocIDs
	}
	if len(sent.ActiveFilters) > 0 {
		out.ActiveFilters = sent.ActiveFilters
	}
	return out
}

func nextMemory(current domain.ConversationMemory, answer *domain.Answer) domain.ConversationMemory {
	next := current
	if cited := answer.CitedDocumentIDs(); len(cited) > 0 {
		next.LastCitedDocIDs = cited
		next.FocusDocIDs = cited
	}
	if len(answer.ListedDocIDs) > 0 {
		next.LastListedDocIDs = answer.ListedDocIDs
	}
	return next
}

func (s *AskService) publishTrace(ctx context.Context, req domain.AskRequest, answer *domain.Answer, latency time.Duration) {
	if s.traces == nil {
		return
	}
	trace := domain.AnswerTrace{
		TraceID:    uuid.NewString(),
		OrgID:      req.Scope.OrgID,
		Scope:      req.Scope.Kind,
		Task:       answer.Task,
		Degraded:   answer.Degraded,
		Partial:    answer.Partial,
		Reason:     answer.Reason,
		Strategies: answer.Trace,
		Citations:  len(answer.Citations),
		Latency:    latency,
		CreatedAt:  s.now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.traces.PublishAnswerTrace(pubCtx, trace); err != nil {
		slog.Warn("answer_trace_publish_failed", "trace_id", trace.TraceID, "error", err)
	}
}
