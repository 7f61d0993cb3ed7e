package ports

import (
	"context"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for grounded question answering.
type QuestionAnswerer interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.Answer, error)
}

// DocumentReader is the inbound read model for document metadata.
type DocumentReader interface {
	GetDocument(ctx context.Context, orgID, id string) (*domain.Document, error)
}
