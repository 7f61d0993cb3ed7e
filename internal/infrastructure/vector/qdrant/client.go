package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// ChunkIndex serves content-chunk similarity search from a Qdrant collection.
// Points carry doc_id, org_id, page and text payload fields.
type ChunkIndex struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *ChunkIndex {
	return &ChunkIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ ports.ContentChunkSearcher = (*ChunkIndex)(nil)

func (c *ChunkIndex) SearchContentChunks(ctx context.Context, scope ports.StoreScope, vector []float32, limit int, threshold float64) ([]domain.ContentMatch, error) {
	if len(scope.DocumentIDs) == 0 || len(vector) == 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": threshold,
		"filter":          scopeFilter(scope),
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &searchResp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]domain.ContentMatch, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.ContentMatch{
			DocumentID: getStringPayload(r.Payload, "doc_id"),
			Content:    getStringPayload(r.Payload, "text"),
			Page:       getIntPayload(r.Payload, "page"),
			Similarity: r.Score,
		})
	}
	return out, nil
}

// EnsurePayloadIndexes creates keyword indexes for the filter fields. Existing
// indexes are left untouched.
func (c *ChunkIndex) EnsurePayloadIndexes(ctx context.Context) error {
	for _, field := range []string{"doc_id", "org_id"} {
		reqBody := map[string]any{"field_name": field, "field_schema": "keyword"}
		url := fmt.Sprintf("%s/collections/%s/index?wait=true", c.baseURL, c.collection)
		if err := c.do(ctx, http.MethodPut, url, reqBody, nil); err != nil {
			return fmt.Errorf("qdrant ensure index %s: %w", field, err)
		}
	}
	return nil
}

func (c *ChunkIndex) do(ctx context.Context, method, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("status %s: %s", e.status, e.body)
	}
	return "status " + e.status
}

func scopeFilter(scope ports.StoreScope) map[string]any {
	must := []map[string]any{
		{"key": "doc_id", "match": map[string]any{"any": scope.DocumentIDs}},
	}
	if scope.OrgID != "" {
		must = append(must, map[string]any{"key": "org_id", "match": map[string]any{"value": scope.OrgID}})
	}
	return map[string]any{"must": must}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) *int {
	v, ok := payload[key].(float64)
	if !ok {
		return nil
	}
	n := int(v)
	return &n
}
