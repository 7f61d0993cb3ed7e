package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// IndexWriter stores indexed documents. SaveDocument replaces the document's
// metadata embeddings and chunks in one transaction.
type IndexWriter struct {
	db *sql.DB
}

func NewIndexWriter(db *sql.DB) *IndexWriter {
	return &IndexWriter{db: db}
}

var _ ports.DocumentIndexWriter = (*IndexWriter)(nil)

func (w *IndexWriter) EnsureMember(ctx context.Context, orgID, userID string) error {
	_, err := w.db.ExecContext(ctx, `
INSERT INTO org_members (org_id, user_id) VALUES ($1, $2)
ON CONFLICT (org_id, user_id) DO NOTHING`, orgID, userID)
	if err != nil {
		return fmt.Errorf("insert org member: %w", err)
	}
	return nil
}

func (w *IndexWriter) EnsureFolder(ctx context.Context, orgID, folderID, parentID, name string) error {
	_, err := w.db.ExecContext(ctx, `
INSERT INTO folders (id, org_id, parent_id, name) VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, name = EXCLUDED.name`,
		folderID, orgID, parentID, name)
	if err != nil {
		return fmt.Errorf("upsert folder: %w", err)
	}
	return nil
}

func (w *IndexWriter) SaveDocument(ctx context.Context, doc domain.Document, fields []domain.FieldEmbedding, chunks []domain.IndexedChunk) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var date any
	if doc.DocumentDate != nil {
		date = *doc.DocumentDate
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (id, org_id, folder_id, title, subject, sender, receiver, category, doc_type,
	filename, description, document_date, version_group_id, is_folder)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE)
ON CONFLICT (id) DO UPDATE SET
	folder_id = EXCLUDED.folder_id, title = EXCLUDED.title, subject = EXCLUDED.subject,
	sender = EXCLUDED.sender, receiver = EXCLUDED.receiver, category = EXCLUDED.category,
	doc_type = EXCLUDED.doc_type, filename = EXCLUDED.filename, description = EXCLUDED.description,
	document_date = EXCLUDED.document_date, version_group_id = EXCLUDED.version_group_id`,
		doc.ID, doc.OrgID, doc.FolderID, doc.Title, doc.Subject, doc.Sender, doc.Receiver, doc.Category,
		doc.DocType, doc.Filename, doc.Description, date, doc.VersionGroupID)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM metadata_embeddings WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("clear metadata embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("clear content chunks: %w", err)
	}

	for _, f := range fields {
		_, err := tx.ExecContext(ctx, `
INSERT INTO metadata_embeddings (document_id, field, value, embedding) VALUES ($1, $2, $3, $4)`,
			doc.ID, f.Field, f.Value, pgvector.NewVector(f.Vector))
		if err != nil {
			return fmt.Errorf("insert metadata embedding %s: %w", f.Field, err)
		}
	}
	for _, c := range chunks {
		var page any
		if c.Page != nil {
			page = *c.Page
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO content_chunks (document_id, page, chunk_index, content, embedding) VALUES ($1, $2, $3, $4, $5)`,
			doc.ID, page, c.Index, c.Text, pgvector.NewVector(c.Vector))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}
