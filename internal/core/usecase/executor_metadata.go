package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

var metadataFieldLabels = map[string]string{
	"title":         "Title",
	"subject":       "Subject",
	"sender":        "Sender",
	"receiver":      "Receiver",
	"document_date": "Date",
	"doc_type":      "Type",
	"category":      "Category",
	"filename":      "File name",
}

var allMetadataFields = []string{"title", "subject", "sender", "receiver", "document_date", "doc_type", "category", "filename"}

// metadataQA answers from structured columns without calling the generator.
func (x *TaskExecutors) metadataQA(ctx context.Context, task domain.MetadataQATask, req execRequest) *domain.Answer {
	if !req.allow.Contains(task.DocumentID) {
		return noConfidentMatch(domain.TaskMetadataQA, "The requested document is not available.")
	}
	docs, err := x.store.GetDocuments(ctx, []string{task.DocumentID})
	if err != nil || len(docs) == 0 {
		answer := noConfidentMatch(domain.TaskMetadataQA, "I could not load the document details right now.")
		if err != nil {
			answer.Degraded = true
		}
		return answer
	}
	doc := docs[0]

	fields := task.Fields
	requested := len(fields) > 0
	if !requested {
		fields = allMetadataFields
	}

	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		value := metadataValue(doc, field)
		if value == "" {
			if !requested {
				continue
			}
			value = "not recorded"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", metadataFieldLabels[field], value))
	}
	if len(lines) == 0 {
		lines = append(lines, "No metadata is recorded for this document.")
	}

	text := strings.Join(lines, "\n")
	confidence := 0.95
	if !requested {
		confidence = 0.8
	}
	return &domain.Answer{
		Text: text,
		Citations: []domain.Citation{{
			DocumentID:  doc.ID,
			Snippet:     truncateRunes(text, domain.MaxSnippetLength),
			DisplayName: doc.DisplayName(),
		}},
		Task:       domain.TaskMetadataQA,
		Confidence: confidence,
		Evidence:   lines,
	}
}

func metadataValue(doc domain.Document, field string) string {
	switch field {
	case "title":
		return doc.Title
	case "subject":
		return doc.Subject
	case "sender":
		return doc.Sender
	case "receiver":
		return doc.Receiver
	case "document_date":
		if doc.DocumentDate == nil {
			return ""
		}
		return doc.DocumentDate.Format("2006-01-02")
	case "doc_type":
		return doc.DocType
	case "category":
		return doc.Category
	case "filename":
		return doc.Filename
	default:
		return ""
	}
}
