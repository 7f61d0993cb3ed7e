package usecase

import (
	"context"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// documentQA answers SummarizeDoc and QAAboutDoc. Without explicit targets it answers
// over the best fused candidates of the allow set.
func (x *TaskExecutors) documentQA(ctx context.Context, task domain.TaskType, targets []string, req execRequest) *domain.Answer {
	ids := req.allow.Filter(targets)
	if len(ids) == 0 {
		candidates := x.retriever.HybridSearch(ctx, req.retrieval(req.allow, x.opts.CandidateLimit), req.degraded)
		for i, c := range candidates {
			if i >= x.opts.QACandidates {
				break
			}
			ids = append(ids, c.DocumentID)
		}
	}
	if len(ids) == 0 {
		return noConfidentMatch(task, "I could not find any document that answers this question.")
	}
	return x.answerFromDocuments(ctx, task, ids, req)
}

func (x *TaskExecutors) answerFromDocuments(ctx context.Context, task domain.TaskType, ids []string, req execRequest) *domain.Answer {
	docs, byID := x.fetchDocuments(ctx, ids)

	question := req.query.Text
	searchText := question
	if task == domain.TaskSummarizeDoc && len(contentTerms(question)) == 0 {
		searchText = "summary overview main points"
	}

	var anchors []domain.ContentMatch
	if !req.degraded {
		anchors = x.retriever.SearchContent(ctx, RetrievalRequest{
			Text:  searchText,
			OrgID: req.query.Scope.OrgID,
			Allow: domain.NewAllowSet(ids...),
			Limit: x.assembler.opts.AnchorLimit * len(ids),
		})
	}
	set := x.assembler.Assemble(ctx, docs, question, anchors)
	if set.Empty() {
		if task == domain.TaskSummarizeDoc {
			return x.metadataOnly(task, docs, req)
		}
		return noConfidentMatch(task, "I could not find content in the selected documents that answers this question.")
	}

	contexts := []domain.ContextSet{set}
	fallback := x.fallbackAnswer(task, question, docs, byID, contexts)
	req.progress.Offer(fallback)
	if req.degraded {
		fallback.Degraded = true
		fallback.Reason = req.reason
		return fallback
	}

	text, reason, ok := x.generate(ctx, task, question, contexts, byID)
	if !ok {
		fallback.Degraded = true
		fallback.Reason = reason
		return fallback
	}
	return &domain.Answer{
		Text:       text,
		Citations:  x.citations(contexts, byID),
		Task:       task,
		Confidence: contextConfidence(contexts),
		Evidence:   evidence(contexts),
	}
}

// fallbackAnswer is the deterministic answer for the assembled context.
func (x *TaskExecutors) fallbackAnswer(task domain.TaskType, question string, docs []domain.Document, byID map[string]domain.Document, contexts []domain.ContextSet) *domain.Answer {
	var parts []string
	var extra []string
	if task == domain.TaskSummarizeDoc {
		for _, d := range docs {
			summary := metadataSummary(d)
			parts = append(parts, summary)
			extra = append(extra, summary)
		}
	}
	if passages := extractiveAnswer(question, byID, contexts, x.opts.ExtractiveSentence); passages != "" {
		parts = append(parts, passages)
	}
	return &domain.Answer{
		Text:       strings.Join(parts, "\n\n"),
		Citations:  x.citations(contexts, byID),
		Task:       task,
		Confidence: 0.4,
		Evidence:   append(evidence(contexts), extra...),
	}
}

func (x *TaskExecutors) metadataOnly(task domain.TaskType, docs []domain.Document, req execRequest) *domain.Answer {
	lines := make([]string, 0, len(docs))
	citations := make([]domain.Citation, 0, len(docs))
	for _, d := range docs {
		summary := metadataSummary(d)
		lines = append(lines, summary)
		citations = append(citations, domain.Citation{
			DocumentID:  d.ID,
			Snippet:     truncateRunes(summary, domain.MaxSnippetLength),
			DisplayName: d.DisplayName(),
		})
	}
	answer := &domain.Answer{
		Text:       strings.Join(lines, "\n"),
		Citations:  citations,
		Task:       task,
		Confidence: 0.35,
		Degraded:   true,
		Reason:     domain.ReasonNoConfidentMatch,
		Evidence:   lines,
	}
	if req.degraded {
		answer.Reason = req.reason
	}
	return answer
}
