package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// IndexService loads a local corpus into the document store: metadata
// embeddings per field, content chunks with page numbers, and folders derived
// from the corpus directory layout.
type IndexService struct {
	extractor ports.SourceExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	writer    ports.DocumentIndexWriter
	mirror    ports.ChunkIndexWriter
}

func NewIndexService(
	extractor ports.SourceExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	writer ports.DocumentIndexWriter,
	mirror ports.ChunkIndexWriter,
) *IndexService {
	return &IndexService{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		writer:    writer,
		mirror:    mirror,
	}
}

type IndexRequest struct {
	OrgID  string
	UserID string
	Keys   []string
}

// IndexCorpus indexes every key. A failing document is logged and reported; the
// rest of the corpus is still indexed.
func (s *IndexService) IndexCorpus(ctx context.Context, req IndexRequest) (domain.IndexReport, error) {
	var report domain.IndexReport
	if strings.TrimSpace(req.OrgID) == "" {
		return report, domain.WrapError(domain.ErrInvalidInput, "index corpus", errors.New("org id is required"))
	}
	if req.UserID != "" {
		if err := s.writer.EnsureMember(ctx, req.OrgID, req.UserID); err != nil {
			return report, fmt.Errorf("ensure member: %w", err)
		}
	}

	folders := map[string]string{}
	for _, key := range req.Keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		folderID, created, err := s.ensureFolderChain(ctx, req.OrgID, path.Dir(key), folders)
		if err != nil {
			return report, err
		}
		report.Folders += created

		chunks, err := s.IndexDocument(ctx, req.OrgID, folderID, key)
		if err != nil {
			slog.Warn("index_document_failed", "key", key, "error", err)
			report.Failed = append(report.Failed, key)
			continue
		}
		report.Documents++
		report.Chunks += chunks
	}
	return report, nil
}

// IndexDocument extracts, chunks, embeds and stores one document and returns
// the number of stored chunks.
func (s *IndexService) IndexDocument(ctx context.Context, orgID, folderID, key string) (int, error) {
	src, err := s.extractor.Extract(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", key, err)
	}

	doc := src.Document
	doc.ID = DocumentIDFor(orgID, key)
	doc.OrgID = orgID
	doc.FolderID = folderID
	if doc.Filename == "" {
		doc.Filename = path.Base(key)
	}

	chunks := s.chunk(src)
	if len(chunks) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}
	for i := range chunks {
		vector, err := s.embedder.EmbedQuery(ctx, chunks[i].Text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w", chunks[i].Index, err)
		}
		chunks[i].Vector = vector
	}

	fields, err := s.embedFields(ctx, doc)
	if err != nil {
		return 0, err
	}

	if err := s.writer.SaveDocument(ctx, doc, fields, chunks); err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.UpsertChunks(ctx, orgID, doc.ID, chunks); err != nil {
			return 0, fmt.Errorf("mirror chunks: %w", err)
		}
	}
	slog.Info("document_indexed", "document_id", doc.ID, "key", key, "chunks", len(chunks), "fields", len(fields))
	return len(chunks), nil
}

func (s *IndexService) chunk(src domain.SourceDocument) []domain.IndexedChunk {
	var out []domain.IndexedChunk
	for i, pageText := range src.Pages {
		var page *int
		if src.Paged {
			n := i + 1
			page = &n
		}
		for _, text := range s.chunker.Split(pageText) {
			out = append(out, domain.IndexedChunk{Index: len(out), Page: page, Text: text})
		}
	}
	return out
}

func (s *IndexService) embedFields(ctx context.Context, doc domain.Document) ([]domain.FieldEmbedding, error) {
	var out []domain.FieldEmbedding
	for _, field := range []struct{ name, value string }{
		{domain.FieldTitle, doc.Title},
		{domain.FieldSubject, doc.Subject},
		{domain.FieldSender, doc.Sender},
		{domain.FieldReceiver, doc.Receiver},
		{domain.FieldCategory, doc.Category},
		{domain.FieldDescription, doc.Description},
	} {
		value := strings.TrimSpace(field.value)
		if value == "" {
			continue
		}
		vector, err := s.embedder.EmbedQuery(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", field.name, err)
		}
		out = append(out, domain.FieldEmbedding{Field: field.name, Value: value, Vector: vector})
	}
	return out, nil
}

// ensureFolderChain creates one folder per directory level of dir and returns
// the id of the deepest one. Root-level keys have no folder.
func (s *IndexService) ensureFolderChain(ctx context.Context, orgID, dir string, seen map[string]string) (string, int, error) {
	if dir == "." || dir == "/" || dir == "" {
		return "", 0, nil
	}
	if id, ok := seen[dir]; ok {
		return id, 0, nil
	}
	parentID, created, err := s.ensureFolderChain(ctx, orgID, path.Dir(dir), seen)
	if err != nil {
		return "", 0, err
	}
	id := FolderIDFor(orgID, dir)
	if err := s.writer.EnsureFolder(ctx, orgID, id, parentID, path.Base(dir)); err != nil {
		return "", 0, fmt.Errorf("ensure folder %s: %w", dir, err)
	}
	seen[dir] = id
	return id, created + 1, nil
}

// DocumentIDFor is stable across runs so re-indexing replaces documents.
func DocumentIDFor(orgID, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("doc:"+orgID+"/"+key)).String()
}

func FolderIDFor(orgID, dir string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("folder:"+orgID+"/"+dir)).String()
}
