package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

var _ ports.ChunkIndexWriter = (*ChunkIndex)(nil)

// EnsureCollection creates the collection with cosine distance. An existing
// collection is accepted as is.
func (c *ChunkIndex) EnsureCollection(ctx context.Context, vectorSize int) error {
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant ensure collection: vector size must be positive, got %d", vectorSize)
	}
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.do(ctx, http.MethodPut, url, reqBody, nil)
	if err == nil || isAlreadyExists(err) {
		return nil
	}
	return fmt.Errorf("qdrant ensure collection: %w", err)
}

// UpsertChunks replaces every point of the document with the given chunks.
// Point ids are derived from document id and chunk index, so re-indexing is
// idempotent.
func (c *ChunkIndex) UpsertChunks(ctx context.Context, orgID, documentID string, chunks []domain.IndexedChunk) error {
	deleteBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "doc_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	deleteURL := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, deleteURL, deleteBody, nil); err != nil {
		return fmt.Errorf("qdrant delete document points: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Vector) == 0 {
			return fmt.Errorf("qdrant upsert: chunk %d of %s has no vector", chunk.Index, documentID)
		}
		payload := map[string]any{
			"doc_id":      documentID,
			"org_id":      orgID,
			"chunk_index": chunk.Index,
			"text":        chunk.Text,
		}
		if chunk.Page != nil {
			payload["page"] = *chunk.Page
		}
		points = append(points, point{
			ID:      pointID(documentID, chunk.Index),
			Vector:  chunk.Vector,
			Payload: payload,
		})
	}

	upsertURL := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPut, upsertURL, map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func pointID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

func isAlreadyExists(err error) bool {
	var statusErr *statusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.code == http.StatusConflict {
		return true
	}
	return statusErr.code == http.StatusBadRequest && strings.Contains(strings.ToLower(statusErr.body), "already exists")
}
