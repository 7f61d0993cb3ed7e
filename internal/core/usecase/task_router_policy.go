package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// PolicyRouter applies the hard vocabulary rules and otherwise asks the generation
// provider for a structured classification. A failed call fails open.
type PolicyRouter struct {
	generator ports.AnswerGenerator
	fallback  *HeuristicRouter
	opts      RouterOptions
}

func NewPolicyRouter(generator ports.AnswerGenerator, opts PipelineOptions) *PolicyRouter {
	return &PolicyRouter{
		generator: generator,
		fallback:  NewHeuristicRouter(opts),
		opts:      opts.Normalize().Router,
	}
}

func (r *PolicyRouter) Name() string { return "policy" }

type classification struct {
	Task                  string                   `json:"task"`
	Confidence            float64                  `json:"confidence"`
	RequiresClarification bool                     `json:"requires_clarification"`
	ClarifyingQuestion    string                   `json:"clarifying_question"`
	SuggestedFilters      []domain.SuggestedFilter `json:"suggested_filters"`
	Alternates            []string                 `json:"alternates"`
}

var classificationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task":                   map[string]any{"type": "string"},
		"confidence":             map[string]any{"type": "number"},
		"requires_clarification": map[string]any{"type": "boolean"},
		"clarifying_question":    map[string]any{"type": "string"},
		"suggested_filters": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"field": map[string]any{"type": "string"},
					"value": map[string]any{"type": "string"},
					"hint":  map[string]any{"type": "string"},
				},
				"required": []string{"field"},
			},
		},
		"alternates": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"task", "confidence", "requires_clarification"},
}

func (r *PolicyRouter) Route(ctx context.Context, q domain.Query, allow domain.AllowSet) domain.RoutingDecision {
	if decision, ok := hardRule(q, allow, r.opts); ok {
		return decision
	}
	if r.generator == nil {
		return r.fallback.soft(q, allow)
	}

	raw, err := r.generator.GenerateJSON(ctx, buildClassificationPrompt(q, allow), classificationSchema)
	if err != nil {
		slog.Warn("router_fail_open", "error", err)
		return failOpenDecision(r.opts)
	}

	decision, err := r.parse(raw, q, allow)
	if err != nil {
		slog.Warn("router_invalid_classification", "error", err)
		decision = r.fallback.soft(q, allow)
		decision.Reason = "classifier_invalid"
	}
	return decision
}

func (r *PolicyRouter) parse(raw string, q domain.Query, allow domain.AllowSet) (domain.RoutingDecision, error) {
	var out classification
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &out); err != nil {
		return domain.RoutingDecision{}, fmt.Errorf("decode classification: %w", err)
	}
	task, ok := domain.ParseTaskType(strings.ToLower(strings.TrimSpace(out.Task)))
	if !ok {
		return domain.RoutingDecision{}, fmt.Errorf("unknown task %q", out.Task)
	}
	if !allowedForScope(task, q, allow) {
		return domain.RoutingDecision{}, fmt.Errorf("task %s not valid for scope %s", task, q.Scope.Kind)
	}

	decision := domain.RoutingDecision{
		Task:       task,
		Confidence: clamp01(out.Confidence),
		Reason:     "classifier",
	}
	if out.RequiresClarification && q.Scope.MultiDocument() {
		decision.RequiresClarification = true
		decision.ClarifyingQuestion = strings.TrimSpace(out.ClarifyingQuestion)
		if decision.ClarifyingQuestion == "" {
			decision.ClarifyingQuestion = "Could you narrow down which documents you mean?"
		}
		decision.SuggestedFilters = out.SuggestedFilters
		if len(decision.SuggestedFilters) == 0 {
			decision.SuggestedFilters = defaultSuggestedFilters()
		}
	}
	for _, alt := range out.Alternates {
		t, ok := domain.ParseTaskType(strings.ToLower(strings.TrimSpace(alt)))
		if !ok || t == task || !allowedForScope(t, q, allow) {
			continue
		}
		decision.Alternates = append(decision.Alternates, t)
	}
	return decision, nil
}

func buildClassificationPrompt(q domain.Query, allow domain.AllowSet) string {
	tasks := []domain.TaskType{domain.TaskQAAboutDoc}
	if _, ok := routingTarget(q, allow); ok {
		tasks = append(tasks, domain.TaskSummarizeDoc, domain.TaskMetadataQA, domain.TaskLinkedContext)
	}
	if q.Scope.MultiDocument() {
		tasks = append(tasks, domain.TaskListDocs, domain.TaskFolderQA)
	}
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, string(t))
	}

	var b strings.Builder
	b.WriteString("You route questions about a document collection to one task.\n")
	b.WriteString("Return only JSON with keys task, confidence (0..1), requires_clarification, clarifying_question, suggested_filters, alternates.\n")
	b.WriteString("Allowed tasks: " + strings.Join(names, ", ") + ".\n")
	b.WriteString("summarize_doc: overview of one document. qa_about_doc: specific question answered from content. ")
	b.WriteString("list_docs: find or list documents. folder_qa: question spanning several documents, comparisons, totals.\n")
	b.WriteString("Ask for clarification only when the question is too vague for the number of documents in scope.\n")
	fmt.Fprintf(&b, "Scope: %s with %d documents.\n", q.Scope.Kind, allow.Len())
	if len(q.Memory.ActiveFilters) > 0 {
		filters := make([]string, 0, len(q.Memory.ActiveFilters))
		for k, v := range q.Memory.ActiveFilters {
			filters = append(filters, k+"="+v)
		}
		b.WriteString("Active filters: " + strings.Join(filters, ", ") + ".\n")
	}
	if n := len(allow.Filter(q.Memory.FocusDocIDs)); n > 0 {
		fmt.Fprintf(&b, "The conversation is focused on %d document(s).\n", n)
	}
	b.WriteString("Question: " + strings.TrimSpace(q.Text) + "\n")
	return b.String()
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
