package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// RetrievalRequest is the common input of every fuser.
type RetrievalRequest struct {
	Text      string
	OrgID     string
	Allow     domain.AllowSet
	Limit     int
	Threshold float64
}

func (r RetrievalRequest) storeScope() ports.StoreScope {
	return ports.StoreScope{OrgID: r.OrgID, DocumentIDs: r.Allow.IDs()}
}

// Retriever owns the three retrieval fusers and the combiner cache.
type Retriever struct {
	embedder        ports.Embedder
	store           ports.DocumentStore
	content         ports.ContentChunkSearcher
	cache           ports.CandidateCache
	observer        ports.PipelineObserver
	opts            RetrievalOptions
	strategyTimeout time.Duration
}

type RetrieverOption func(*Retriever)

// WithContentSearcher serves content-chunk similarity from a dedicated index.
func WithContentSearcher(searcher ports.ContentChunkSearcher) RetrieverOption {
	return func(r *Retriever) {
		if searcher != nil {
			r.content = searcher
		}
	}
}

func WithCandidateCache(cache ports.CandidateCache) RetrieverOption {
	return func(r *Retriever) {
		r.cache = cache
	}
}

func WithRetrievalObserver(observer ports.PipelineObserver) RetrieverOption {
	return func(r *Retriever) {
		if observer != nil {
			r.observer = observer
		}
	}
}

func NewRetriever(embedder ports.Embedder, store ports.DocumentStore, opts PipelineOptions, options ...RetrieverOption) *Retriever {
	opts = opts.Normalize()
	r := &Retriever{
		embedder:        embedder,
		store:           store,
		content:         store,
		observer:        noopObserver{},
		opts:            opts.Retrieval,
		strategyTimeout: opts.Coordinator.StrategyTimeout,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

var errNoEmbedder = errors.New("embedder is not configured")

type embedFunc func() ([]float32, error)

// embedOnce memoizes the query embedding so both vector fusers share one provider call.
func (r *Retriever) embedOnce(ctx context.Context, text string) embedFunc {
	return sync.OnceValues(func() ([]float32, error) {
		if r.embedder == nil {
			return nil, domain.WrapError(domain.ErrProviderUnavailable, "embed query", errNoEmbedder)
		}
		return r.embedder.EmbedQuery(ctx, text)
	})
}

// SearchMetadata runs metadata-embedding search. Failures yield an empty result.
func (r *Retriever) SearchMetadata(ctx context.Context, req RetrievalRequest) []domain.FieldMatch {
	return r.searchMetadata(ctx, req, r.embedOnce(ctx, req.Text))
}

// SearchContent runs content-embedding search. Failures yield an empty result.
func (r *Retriever) SearchContent(ctx context.Context, req RetrievalRequest) []domain.ContentMatch {
	return r.searchContent(ctx, req, r.embedOnce(ctx, req.Text))
}

func (r *Retriever) searchMetadata(ctx context.Context, req RetrievalRequest, embed embedFunc) []domain.FieldMatch {
	start := time.Now()
	if req.Allow.Len() == 0 || strings.TrimSpace(req.Text) == "" {
		return nil
	}
	vector, err := embed()
	if err != nil {
		r.fuserFailed(domain.SourceMetadata, start, err)
		return nil
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = r.opts.MetadataThreshold
	}
	matches, err := r.store.SearchMetadataEmbeddings(ctx, req.storeScope(), vector, r.limit(req), threshold)
	if err != nil {
		r.fuserFailed(domain.SourceMetadata, start, err)
		return nil
	}

	gate := max(r.opts.MetadataPostFilter, threshold)
	out := make([]domain.FieldMatch, 0, len(matches))
	for _, m := range matches {
		if !req.Allow.Contains(m.DocumentID) || m.Similarity < gate {
			continue
		}
		if m.FieldWeight <= 0 {
			m.FieldWeight = r.fieldWeight(m.Field)
		}
		out = append(out, m)
	}
	r.observer.ObserveFuser(domain.SourceMetadata, time.Since(start), len(out), false)
	return out
}

func (r *Retriever) searchContent(ctx context.Context, req RetrievalRequest, embed embedFunc) []domain.ContentMatch {
	start := time.Now()
	if req.Allow.Len() == 0 || strings.TrimSpace(req.Text) == "" {
		return nil
	}
	vector, err := embed()
	if err != nil {
		r.fuserFailed(domain.SourceContent, start, err)
		return nil
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = r.opts.ContentThreshold
	}
	matches, err := r.content.SearchContentChunks(ctx, req.storeScope(), vector, r.limit(req), threshold)
	if err != nil {
		r.fuserFailed(domain.SourceContent, start, err)
		return nil
	}

	out := make([]domain.ContentMatch, 0, len(matches))
	for _, m := range matches {
		if !req.Allow.Contains(m.DocumentID) || m.Similarity < threshold {
			continue
		}
		out = append(out, m)
	}
	r.observer.ObserveFuser(domain.SourceContent, time.Since(start), len(out), false)
	return out
}

// SearchKeyword runs lexical matching over metadata columns. It never calls a provider.
func (r *Retriever) SearchKeyword(ctx context.Context, req RetrievalRequest) []domain.KeywordHit {
	start := time.Now()
	terms := keywordTerms(req.Text)
	if req.Allow.Len() == 0 || len(terms) == 0 {
		return nil
	}

	docs, err := r.store.KeywordSearch(ctx, req.storeScope(), terms, r.limit(req))
	if err != nil {
		r.fuserFailed(domain.SourceKeyword, start, err)
		return nil
	}

	out := make([]domain.KeywordHit, 0, len(docs))
	for _, doc := range docs {
		if doc.IsFolder || !req.Allow.Contains(doc.ID) {
			continue
		}
		field, score := r.keywordScore(doc, terms)
		out = append(out, domain.KeywordHit{DocumentID: doc.ID, Field: field, Similarity: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	r.observer.ObserveFuser(domain.SourceKeyword, time.Since(start), len(out), false)
	return out
}

func (r *Retriever) keywordScore(doc domain.Document, terms []string) (string, float64) {
	values := map[string]string{
		"title":       doc.Title,
		"subject":     doc.Subject,
		"sender":      doc.Sender,
		"receiver":    doc.Receiver,
		"category":    doc.Category,
		"description": doc.Description,
	}
	for _, field := range r.opts.KeywordFieldOrder {
		value := strings.ToLower(values[field])
		if value == "" {
			continue
		}
		for _, term := range terms {
			if strings.Contains(value, term) {
				return field, max(r.opts.KeywordFieldScores[field], r.opts.KeywordFloor)
			}
		}
	}
	return "other", r.opts.KeywordFloor
}

// keywordTerms sanitizes the question into filter-safe lowercase terms.
func keywordTerms(text string) []string {
	return termVariants(contentTerms(text))
}

func (r *Retriever) fieldWeight(field string) float64 {
	if w, ok := r.opts.MetadataFieldWeights[strings.ToLower(field)]; ok {
		return w
	}
	return 1.0
}

func (r *Retriever) limit(req RetrievalRequest) int {
	if req.Limit > 0 {
		return req.Limit
	}
	return r.opts.FuserLimit
}

func (r *Retriever) fuserFailed(source domain.RetrievalSource, start time.Time, err error) {
	slog.Warn("fuser_failed", "source", string(source), "error", err)
	r.observer.ObserveFuser(source, time.Since(start), 0, true)
}
