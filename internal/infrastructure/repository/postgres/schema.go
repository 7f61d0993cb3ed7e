package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026101601

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the read model the pipeline queries. Documents, chunks and
// embeddings are written by the ingestion side; this service only reads them.
func EnsureSchema(ctx context.Context, db *sql.DB, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS org_members (
	org_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (org_id, user_id)
);

CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	parent_id TEXT REFERENCES folders(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	folder_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	receiver TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	document_date DATE,
	version_group_id TEXT NOT NULL DEFAULT '',
	is_folder BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_org ON documents(org_id);
CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder_id);
CREATE INDEX IF NOT EXISTS idx_documents_version_group ON documents(version_group_id) WHERE version_group_id <> '';

CREATE TABLE IF NOT EXISTS document_links (
	source_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	target_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	PRIMARY KEY (source_id, target_id)
);

CREATE TABLE IF NOT EXISTS metadata_embeddings (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL,
	PRIMARY KEY (document_id, field)
);
CREATE INDEX IF NOT EXISTS idx_metadata_embeddings_hnsw ON metadata_embeddings USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS content_chunks (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page INTEGER,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_chunks_document ON content_chunks(document_id, chunk_index);
CREATE INDEX IF NOT EXISTS idx_content_chunks_hnsw ON content_chunks USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS conversation_memory (
	user_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	memory JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, conversation_id)
);
`, dimensions)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
