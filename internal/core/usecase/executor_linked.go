package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// linkedContext widens the evidence to the version group and linked documents,
// never beyond the allow set.
func (x *TaskExecutors) linkedContext(ctx context.Context, task domain.LinkedContextTask, req execRequest) *domain.Answer {
	if !req.allow.Contains(task.DocumentID) {
		return noConfidentMatch(domain.TaskLinkedContext, "The requested document is not available.")
	}

	var links []domain.DocumentLink
	if x.links != nil {
		found, err := x.links.LinkedDocuments(ctx, task.DocumentID)
		if err != nil {
			slog.Warn("link_lookup_failed", "document_id", task.DocumentID, "error", err)
		}
		links = found
	}

	relation := make(map[string]domain.LinkRelation, len(links))
	linkedIDs := make([]string, 0, len(links))
	for _, l := range links {
		if l.DocumentID == task.DocumentID || !req.allow.Contains(l.DocumentID) {
			continue
		}
		if _, dup := relation[l.DocumentID]; dup {
			continue
		}
		relation[l.DocumentID] = l.Relation
		linkedIDs = append(linkedIDs, l.DocumentID)
	}

	if task.ListOnly {
		return x.linkedListing(ctx, task.DocumentID, linkedIDs, relation)
	}

	expanded := append([]string{task.DocumentID}, linkedIDs...)
	return x.answerFromDocuments(ctx, domain.TaskLinkedContext, expanded, req)
}

func (x *TaskExecutors) linkedListing(ctx context.Context, documentID string, linkedIDs []string, relation map[string]domain.LinkRelation) *domain.Answer {
	all, byID := x.fetchDocuments(ctx, append([]string{documentID}, linkedIDs...))
	source := all[0]
	if len(linkedIDs) == 0 {
		text := fmt.Sprintf("No linked or version documents were found for %s.", source.DisplayName())
		return &domain.Answer{
			Text:       text,
			Citations:  []domain.Citation{{DocumentID: source.ID, DisplayName: source.DisplayName()}},
			Task:       domain.TaskLinkedContext,
			Confidence: 0.9,
			Evidence:   []string{text},
		}
	}

	lines := []string{fmt.Sprintf("Documents linked to %s:", source.DisplayName())}
	citations := make([]domain.Citation, 0, len(linkedIDs))
	for i, id := range linkedIDs {
		doc := byID[id]
		label := "linked"
		if relation[id] == domain.RelationVersion {
			label = "version"
		}
		line := fmt.Sprintf("%d. %s (%s%s)", i+1, doc.DisplayName(), label, dateSuffix(doc))
		lines = append(lines, line)
		citations = append(citations, domain.Citation{
			DocumentID:  id,
			Snippet:     truncateRunes(metadataSummary(doc), domain.MaxSnippetLength),
			DisplayName: doc.DisplayName(),
		})
	}
	return &domain.Answer{
		Text:         strings.Join(lines, "\n"),
		Citations:    citations,
		Task:         domain.TaskLinkedContext,
		Confidence:   0.9,
		ListedDocIDs: linkedIDs,
		Evidence:     lines,
	}
}

func dateSuffix(doc domain.Document) string {
	if doc.DocumentDate == nil {
		return ""
	}
	return ", " + doc.DocumentDate.Format("2006-01-02")
}
