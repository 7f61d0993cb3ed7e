package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

const documentColumns = `id, org_id, folder_id, title, subject, sender, receiver, category, doc_type,
	filename, description, document_date, version_group_id, is_folder, created_at`

// DocumentRepository is the read side of the document database. Every similarity
// and keyword query is constrained to the scope's organization and id set.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

var _ ports.DocumentStore = (*DocumentRepository)(nil)

func (r *DocumentRepository) SearchMetadataEmbeddings(ctx context.Context, scope ports.StoreScope, vector []float32, limit int, threshold float64) ([]domain.FieldMatch, error) {
	if len(scope.DocumentIDs) == 0 || len(vector) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT m.document_id, m.field, m.value, 1 - (m.embedding <=> $1) AS similarity
FROM metadata_embeddings m
JOIN documents d ON d.id = m.document_id
WHERE d.org_id = $2 AND m.document_id = ANY($3) AND NOT d.is_folder
  AND 1 - (m.embedding <=> $1) >= $4
ORDER BY m.embedding <=> $1
LIMIT $5
`, pgvector.NewVector(vector), scope.OrgID, pq.Array(scope.DocumentIDs), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search metadata embeddings: %w", err)
	}
	defer rows.Close()

	var out []domain.FieldMatch
	for rows.Next() {
		var m domain.FieldMatch
		if err := rows.Scan(&m.DocumentID, &m.Field, &m.Value, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan metadata match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata matches: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) SearchContentChunks(ctx context.Context, scope ports.StoreScope, vector []float32, limit int, threshold float64) ([]domain.ContentMatch, error) {
	if len(scope.DocumentIDs) == 0 || len(vector) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT c.document_id, c.content, c.page, 1 - (c.embedding <=> $1) AS similarity
FROM content_chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.org_id = $2 AND c.document_id = ANY($3)
  AND 1 - (c.embedding <=> $1) >= $4
ORDER BY c.embedding <=> $1
LIMIT $5
`, pgvector.NewVector(vector), scope.OrgID, pq.Array(scope.DocumentIDs), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search content chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentMatch
	for rows.Next() {
		var (
			m    domain.ContentMatch
			page sql.NullInt32
		)
		if err := rows.Scan(&m.DocumentID, &m.Content, &page, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan content match: %w", err)
		}
		m.Page = pageRef(page)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content matches: %w", err)
	}
	return out, nil
}

// KeywordSearch matches lowercase terms as substrings of the searchable metadata columns.
func (r *DocumentRepository) KeywordSearch(ctx context.Context, scope ports.StoreScope, terms []string, limit int) ([]domain.Document, error) {
	if len(scope.DocumentIDs) == 0 || len(terms) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE org_id = $1 AND id = ANY($2) AND NOT is_folder
  AND (lower(title) LIKE ANY($3) OR lower(subject) LIKE ANY($3) OR lower(sender) LIKE ANY($3)
    OR lower(receiver) LIKE ANY($3) OR lower(category) LIKE ANY($3) OR lower(description) LIKE ANY($3))
ORDER BY created_at DESC, id
LIMIT $4
`, scope.OrgID, pq.Array(scope.DocumentIDs), pq.Array(likePatterns(terms)), limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return scanDocuments(rows)
}

func (r *DocumentRepository) GetDocuments(ctx context.Context, ids []string) ([]domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = ANY($1)
`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	return scanDocuments(rows)
}

// ChunksByPages returns up to perPage chunks for each requested page in reading order.
func (r *DocumentRepository) ChunksByPages(ctx context.Context, documentID string, pages []int, perPage int) ([]domain.Chunk, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, page, content
FROM (
	SELECT document_id, page, content, chunk_index,
		row_number() OVER (PARTITION BY page ORDER BY chunk_index) AS rn
	FROM content_chunks
	WHERE document_id = $1 AND page = ANY($2)
) ranked
WHERE rn <= $3
ORDER BY page, chunk_index
`, documentID, pq.Array(pages), perPage)
	if err != nil {
		return nil, fmt.Errorf("chunks by pages: %w", err)
	}
	return scanChunks(rows)
}

func (r *DocumentRepository) ChunksContaining(ctx context.Context, documentID string, phrases []string, limit int) ([]domain.Chunk, error) {
	if len(phrases) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, page, content
FROM content_chunks
WHERE document_id = $1 AND lower(content) LIKE ANY($2)
ORDER BY chunk_index
LIMIT $3
`, documentID, pq.Array(likePatterns(phrases)), limit)
	if err != nil {
		return nil, fmt.Errorf("chunks containing: %w", err)
	}
	return scanChunks(rows)
}

func (r *DocumentRepository) LeadingChunks(ctx context.Context, documentID string, limit int) ([]domain.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, page, content
FROM content_chunks
WHERE document_id = $1
ORDER BY chunk_index
LIMIT $2
`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("leading chunks: %w", err)
	}
	return scanChunks(rows)
}

func scanDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		var (
			doc     domain.Document
			docDate sql.NullTime
		)
		if err := rows.Scan(
			&doc.ID, &doc.OrgID, &doc.FolderID, &doc.Title, &doc.Subject, &doc.Sender, &doc.Receiver,
			&doc.Category, &doc.DocType, &doc.Filename, &doc.Description, &docDate,
			&doc.VersionGroupID, &doc.IsFolder, &doc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if docDate.Valid {
			t := docDate.Time.UTC()
			doc.DocumentDate = &t
		}
		doc.CreatedAt = doc.CreatedAt.UTC()
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var (
			c    domain.Chunk
			page sql.NullInt32
		)
		if err := rows.Scan(&c.DocumentID, &page, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Page = pageRef(page)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func pageRef(page sql.NullInt32) *int {
	if !page.Valid {
		return nil
	}
	p := int(page.Int32)
	return &p
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePatterns turns terms into escaped %term% patterns for LIKE ANY.
func likePatterns(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out = append(out, "%"+likeEscaper.Replace(t)+"%")
	}
	return out
}
