package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// listDocs is deterministic: it lists ranked candidates and never calls the generator.
func (x *TaskExecutors) listDocs(ctx context.Context, task domain.ListDocsTask, req execRequest) *domain.Answer {
	limit := task.Limit
	if limit <= 0 {
		limit = x.opts.ListLimit
	}

	var docs []domain.Document
	if len(contentTerms(req.query.Text)) == 0 {
		docs = x.recentDocuments(ctx, req.allow, limit)
	} else {
		candidates := x.retriever.HybridSearch(ctx, req.retrieval(req.allow, x.opts.CandidateLimit), req.degraded)
		ids := make([]string, 0, limit)
		for _, c := range candidates {
			if len(ids) >= limit {
				break
			}
			ids = append(ids, c.DocumentID)
		}
		docs, _ = x.fetchDocuments(ctx, ids)
	}

	if len(docs) == 0 {
		answer := noConfidentMatch(domain.TaskListDocs, "No matching documents found.")
		answer.Degraded = req.degraded
		if req.degraded {
			answer.Reason = req.reason
		}
		return answer
	}

	lines := make([]string, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for i, d := range docs {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, listingLine(d)))
		ids = append(ids, d.ID)
	}
	answer := &domain.Answer{
		Text:         strings.Join(lines, "\n"),
		Citations:    []domain.Citation{},
		Task:         domain.TaskListDocs,
		Confidence:   0.85,
		ListedDocIDs: ids,
	}
	if req.degraded {
		answer.Degraded = true
		answer.Reason = req.reason
	}
	return answer
}

// recentDocuments lists the allow set newest first when the question names no terms.
func (x *TaskExecutors) recentDocuments(ctx context.Context, allow domain.AllowSet, limit int) []domain.Document {
	docs, _ := x.fetchDocuments(ctx, allow.IDs())
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if d.IsFolder {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := documentTime(out[i]), documentTime(out[j])
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func listingLine(d domain.Document) string {
	details := make([]string, 0, 4)
	if d.DocumentDate != nil {
		details = append(details, d.DocumentDate.Format("2006-01-02"))
	}
	if d.DocType != "" {
		details = append(details, d.DocType)
	}
	if d.Category != "" {
		details = append(details, d.Category)
	}
	if d.Sender != "" {
		details = append(details, "from "+d.Sender)
	}
	if len(details) == 0 {
		return d.DisplayName()
	}
	return d.DisplayName() + " (" + strings.Join(details, ", ") + ")"
}

func documentTime(d domain.Document) time.Time {
	if d.DocumentDate != nil {
		return *d.DocumentDate
	}
	return d.CreatedAt
}
