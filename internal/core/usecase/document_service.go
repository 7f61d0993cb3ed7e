package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

type DocumentService struct {
	store ports.DocumentStore
}

func NewDocumentService(store ports.DocumentStore) *DocumentService {
	return &DocumentService{store: store}
}

func (s *DocumentService) GetDocument(ctx context.Context, orgID, id string) (*domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimSpace(orgID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("org_id and id are required"))
	}
	docs, err := s.store.GetDocuments(ctx, []string{id})
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "get document", err)
	}
	for _, d := range docs {
		if d.ID == id && d.OrgID == orgID {
			return &d, nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
}
