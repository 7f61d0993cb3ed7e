package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// LinkRepository reads explicit links and version-group siblings from postgres.
// It backs the link graph when neo4j is not configured.
type LinkRepository struct {
	db *sql.DB
}

func NewLinkRepository(db *sql.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

var _ ports.LinkGraph = (*LinkRepository)(nil)

func (r *LinkRepository) LinkedDocuments(ctx context.Context, documentID string) ([]domain.DocumentLink, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT ON (id) id, relation FROM (
	SELECT d.id, 'version' AS relation, 0 AS rank
	FROM documents d
	JOIN documents src ON src.id = $1
	WHERE src.version_group_id <> '' AND d.version_group_id = src.version_group_id AND d.id <> src.id
	UNION ALL
	SELECT target_id, 'linked', 1 FROM document_links WHERE source_id = $1
	UNION ALL
	SELECT source_id, 'linked', 1 FROM document_links WHERE target_id = $1
) edges
ORDER BY id, rank
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("linked documents: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentLink
	for rows.Next() {
		var (
			link     domain.DocumentLink
			relation string
		)
		if err := rows.Scan(&link.DocumentID, &relation); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		link.Relation = domain.LinkRelation(relation)
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}
