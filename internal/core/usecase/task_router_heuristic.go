package usecase

import (
	"context"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// HeuristicRouter classifies with vocabulary rules only. It never calls a provider
// and is used whenever the provider circuit is open.
type HeuristicRouter struct {
	opts RouterOptions
}

func NewHeuristicRouter(opts PipelineOptions) *HeuristicRouter {
	return &HeuristicRouter{opts: opts.Normalize().Router}
}

func (r *HeuristicRouter) Name() string { return "heuristic" }

func (r *HeuristicRouter) Route(_ context.Context, q domain.Query, allow domain.AllowSet) domain.RoutingDecision {
	if decision, ok := hardRule(q, allow, r.opts); ok {
		return decision
	}
	return r.soft(q, allow)
}

func (r *HeuristicRouter) soft(q domain.Query, allow domain.AllowSet) domain.RoutingDecision {
	text := normalizedPhrase(q.Text)
	terms := contentTerms(q.Text)

	if _, ok := routingTarget(q, allow); ok {
		if containsPhrase(text, overviewPhrases) || len(terms) == 0 {
			return domain.RoutingDecision{
				Task:       domain.TaskSummarizeDoc,
				Confidence: 0.75,
				Alternates: []domain.TaskType{domain.TaskQAAboutDoc},
				Reason:     "overview_phrasing",
			}
		}
		return domain.RoutingDecision{Task: domain.TaskQAAboutDoc, Confidence: 0.7, Reason: "default"}
	}

	if !q.Scope.MultiDocument() {
		return domain.RoutingDecision{Task: domain.TaskQAAboutDoc, Confidence: 0.6, Reason: "default"}
	}

	switch {
	case containsPhrase(text, countPhrases), containsPhrase(text, analyticalPhrases) && !containsPhrase(text, listPhrases):
		return domain.RoutingDecision{
			Task:       domain.TaskFolderQA,
			Confidence: 0.75,
			Alternates: []domain.TaskType{domain.TaskListDocs},
			Reason:     "multi_document_phrasing",
		}
	case containsPhrase(text, listPhrases):
		return domain.RoutingDecision{
			Task:       domain.TaskListDocs,
			Confidence: 0.8,
			Reason:     "list_phrasing",
		}
	}

	if clarification, ok := r.clarify(q, allow, terms); ok {
		return clarification
	}
	return domain.RoutingDecision{
		Task:       domain.TaskQAAboutDoc,
		Confidence: 0.65,
		Alternates: []domain.TaskType{domain.TaskFolderQA},
		Reason:     "default",
	}
}

// clarify asks for narrowing when a short question targets a large multi-document scope.
func (r *HeuristicRouter) clarify(q domain.Query, allow domain.AllowSet, terms []string) (domain.RoutingDecision, bool) {
	if len(terms) > 1 || allow.Len() < r.opts.ClarifyMinDocs || len(allow.Filter(q.Memory.FocusDocIDs)) > 0 {
		return domain.RoutingDecision{}, false
	}
	return domain.RoutingDecision{
		Task:                  domain.TaskListDocs,
		Confidence:            0.4,
		RequiresClarification: true,
		ClarifyingQuestion:    "Which documents do you mean? You can narrow it down by date range, document type or sender.",
		SuggestedFilters:      defaultSuggestedFilters(),
		Reason:                "ambiguous_multi_document",
	}, true
}

func defaultSuggestedFilters() []domain.SuggestedFilter {
	return []domain.SuggestedFilter{
		{Field: "date_range", Hint: "e.g. 2024-01-01..2024-03-31"},
		{Field: "doc_type", Hint: "e.g. invoice, contract, letter"},
		{Field: "sender", Hint: "who sent the document"},
	}
}
