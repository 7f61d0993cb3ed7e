package ports

import (
	"context"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// StoreScope narrows store queries to one tenant and, optionally, to an id set.
type StoreScope struct {
	OrgID       string
	DocumentIDs []string
}

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AnswerGenerator calls the generation provider.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, req domain.GenerationRequest) (string, error)
	GenerateJSON(ctx context.Context, prompt string, schema map[string]any) (string, error)
}

// ContentChunkSearcher performs similarity search over chunk embeddings.
type ContentChunkSearcher interface {
	SearchContentChunks(ctx context.Context, scope StoreScope, vector []float32, limit int, threshold float64) ([]domain.ContentMatch, error)
}

// DocumentStore is the read side of the document database.
type DocumentStore interface {
	ContentChunkSearcher
	SearchMetadataEmbeddings(ctx context.Context, scope StoreScope, vector []float32, limit int, threshold float64) ([]domain.FieldMatch, error)
	KeywordSearch(ctx context.Context, scope StoreScope, terms []string, limit int) ([]domain.Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]domain.Document, error)
	ChunksByPages(ctx context.Context, documentID string, pages []int, perPage int) ([]domain.Chunk, error)
	ChunksContaining(ctx context.Context, documentID string, phrases []string, limit int) ([]domain.Chunk, error)
	LeadingChunks(ctx context.Context, documentID string, limit int) ([]domain.Chunk, error)
}

// LinkGraph resolves version-group members and explicit links of a document.
type LinkGraph interface {
	LinkedDocuments(ctx context.Context, documentID string) ([]domain.DocumentLink, error)
}

// ScopeResolver computes the set of documents an identity may see for a scope.
type ScopeResolver interface {
	AllowedDocumentIDs(ctx context.Context, identity domain.Identity, scope domain.Scope) (domain.AllowSet, error)
}

// CandidateCache holds short-lived fusion results.
type CandidateCache interface {
	Get(ctx context.Context, key string) ([]domain.Candidate, bool)
	Set(ctx context.Context, key string, candidates []domain.Candidate)
}

// MemoryStore persists short-term conversation memory.
type MemoryStore interface {
	Load(ctx context.Context, userID, conversationID string) (domain.ConversationMemory, error)
	Save(ctx context.Context, userID, conversationID string, memory domain.ConversationMemory) error
}

// AnswerTracePublisher emits answer telemetry.
type AnswerTracePublisher interface {
	PublishAnswerTrace(ctx context.Context, trace domain.AnswerTrace) error
}

// CircuitReader exposes the shared breaker state without allowing mutation.
type CircuitReader interface {
	CircuitState() domain.CircuitState
}

// PipelineObserver records pipeline telemetry.
type PipelineObserver interface {
	ObserveFuser(source domain.RetrievalSource, duration time.Duration, results int, failed bool)
	ObserveAnswer(answer *domain.Answer, duration time.Duration)
	ObserveFilteredCitations(count int)
	ObserveUnsupportedSentences(count int)
}

// SourceExtractor reads one corpus entry into text pages and metadata.
type SourceExtractor interface {
	Extract(ctx context.Context, key string) (domain.SourceDocument, error)
}

type Chunker interface {
	Split(text string) []string
}

// DocumentIndexWriter is the write side used by corpus indexing.
type DocumentIndexWriter interface {
	EnsureMember(ctx context.Context, orgID, userID string) error
	EnsureFolder(ctx context.Context, orgID, folderID, parentID, name string) error
	SaveDocument(ctx context.Context, doc domain.Document, fields []domain.FieldEmbedding, chunks []domain.IndexedChunk) error
}

// ChunkIndexWriter mirrors content chunks into an external vector index.
type ChunkIndexWriter interface {
	UpsertChunks(ctx context.Context, orgID, documentID string, chunks []domain.IndexedChunk) error
}
