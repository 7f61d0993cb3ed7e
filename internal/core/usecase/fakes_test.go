package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

var errProviderDown = errors.New("provider down")

type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]domain.Document
	chunks   []domain.Chunk
	metadata []domain.FieldMatch
	content  []domain.ContentMatch

	contentErr  error
	metadataErr error
	keywordErr  error

	keywordCalls int
	contentCalls int
	// slowDoc blocks chunk reads for one document until release is closed, or
	// until ctx ends when release is nil.
	slowDoc string
	release chan struct{}
}

func newFakeStore(docs ...domain.Document) *fakeStore {
	s := &fakeStore{docs: make(map[string]domain.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func inScope(scope ports.StoreScope, id string) bool {
	if len(scope.DocumentIDs) == 0 {
		return true
	}
	for _, allowed := range scope.DocumentIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

func (s *fakeStore) SearchContentChunks(_ context.Context, scope ports.StoreScope, _ []float32, limit int, threshold float64) ([]domain.ContentMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentCalls++
	if s.contentErr != nil {
		return nil, s.contentErr
	}
	var out []domain.ContentMatch
	for _, m := range s.content {
		if inScope(scope, m.DocumentID) && m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SearchMetadataEmbeddings(_ context.Context, scope ports.StoreScope, _ []float32, limit int, threshold float64) ([]domain.FieldMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadataErr != nil {
		return nil, s.metadataErr
	}
	var out []domain.FieldMatch
	for _, m := range s.metadata {
		if inScope(scope, m.DocumentID) && m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) KeywordSearch(_ context.Context, scope ports.StoreScope, terms []string, limit int) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywordCalls++
	if s.keywordErr != nil {
		return nil, s.keywordErr
	}
	var out []domain.Document
	for _, d := range s.docs {
		if !inScope(scope, d.ID) {
			continue
		}
		haystack := strings.ToLower(strings.Join([]string{d.Title, d.Subject, d.Sender, d.Receiver, d.Category, d.Description, d.Filename}, " "))
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				out = append(out, d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetDocuments(_ context.Context, ids []string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) waitIfSlow(ctx context.Context, documentID string) {
	if s.slowDoc == "" || s.slowDoc != documentID {
		return
	}
	if s.release != nil {
		<-s.release
		return
	}
	<-ctx.Done()
}

func (s *fakeStore) ChunksByPages(ctx context.Context, documentID string, pages []int, perPage int) ([]domain.Chunk, error) {
	s.waitIfSlow(ctx, documentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int]int)
	for _, p := range pages {
		wanted[p] = 0
	}
	var out []domain.Chunk
	for _, c := range s.chunks {
		if c.DocumentID != documentID || c.Page == nil {
			continue
		}
		n, ok := wanted[*c.Page]
		if !ok || (perPage > 0 && n >= perPage) {
			continue
		}
		wanted[*c.Page] = n + 1
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) ChunksContaining(ctx context.Context, documentID string, phrases []string, limit int) ([]domain.Chunk, error) {
	s.waitIfSlow(ctx, documentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chunk
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			continue
		}
		text := strings.ToLower(c.Text)
		for _, p := range phrases {
			if strings.Contains(text, strings.ToLower(p)) {
				out = append(out, c)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) LeadingChunks(ctx context.Context, documentID string, limit int) ([]domain.Chunk, error) {
	s.waitIfSlow(ctx, documentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	err   error
	hang  bool
	calls atomic.Int32
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	e.calls.Add(1)
	if e.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeGenerator struct {
	answer     string
	answerErr  error
	json       string
	jsonErr    error
	hang       bool
	answerCall atomic.Int32
	jsonCall   atomic.Int32

	mu      sync.Mutex
	lastReq domain.GenerationRequest
}

func (g *fakeGenerator) GenerateAnswer(ctx context.Context, req domain.GenerationRequest) (string, error) {
	g.answerCall.Add(1)
	g.mu.Lock()
	g.lastReq = req
	g.mu.Unlock()
	if g.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.answerErr != nil {
		return "", g.answerErr
	}
	return g.answer, nil
}

func (g *fakeGenerator) GenerateJSON(ctx context.Context, _ string, _ map[string]any) (string, error) {
	g.jsonCall.Add(1)
	if g.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.jsonErr != nil {
		return "", g.jsonErr
	}
	return g.json, nil
}

type fakeCircuit struct {
	state domain.BreakerState
}

func (c fakeCircuit) CircuitState() domain.CircuitState {
	if c.state == "" {
		return domain.CircuitState{State: domain.BreakerClosed}
	}
	return domain.CircuitState{State: c.state}
}

type fakeLinks struct {
	links map[string][]domain.DocumentLink
	err   error
}

func (l fakeLinks) LinkedDocuments(_ context.Context, id string) ([]domain.DocumentLink, error) {
	return l.links[id], l.err
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string][]domain.Candidate
	gets  int
	sets  int
}

func (c *fakeCache) Get(_ context.Context, key string) ([]domain.Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.items[key]
	return v, ok
}

func (c *fakeCache) Set(_ context.Context, key string, v []domain.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string][]domain.Candidate)
	}
	c.sets++
	c.items[key] = v
}

type recordingObserver struct {
	mu          sync.Mutex
	answers     int
	filtered    int
	unsupported int
	fuserFails  map[domain.RetrievalSource]int
}

func (o *recordingObserver) ObserveFuser(source domain.RetrievalSource, _ time.Duration, _ int, failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fuserFails == nil {
		o.fuserFails = make(map[domain.RetrievalSource]int)
	}
	if failed {
		o.fuserFails[source]++
	}
}

func (o *recordingObserver) ObserveAnswer(*domain.Answer, time.Duration) {
	o.mu.Lock()
	o.answers++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveFilteredCitations(n int) {
	o.mu.Lock()
	o.filtered += n
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveUnsupportedSentences(n int) {
	o.mu.Lock()
	o.unsupported += n
	o.mu.Unlock()
}

func page(n int) *int {
	return &n
}

func testOptions() PipelineOptions {
	opts := DefaultPipelineOptions()
	opts.Coordinator.OverallTimeout = 2 * time.Second
	opts.Coordinator.StrategyTimeout = time.Second
	return opts
}

type pipelineFixture struct {
	store     *fakeStore
	embedder  *fakeEmbedder
	generator *fakeGenerator
	links     fakeLinks
	circuit   fakeCircuit
	observer  *recordingObserver
	opts      PipelineOptions
}

func newPipelineFixture(store *fakeStore) *pipelineFixture {
	return &pipelineFixture{
		store:     store,
		embedder:  &fakeEmbedder{},
		generator: &fakeGenerator{answer: "Generated answer."},
		observer:  &recordingObserver{},
		opts:      testOptions(),
	}
}

func (f *pipelineFixture) retriever() *Retriever {
	return NewRetriever(f.embedder, f.store, f.opts, WithRetrievalObserver(f.observer))
}

func (f *pipelineFixture) executors() *TaskExecutors {
	return NewTaskExecutors(f.store, f.links, f.retriever(), NewContextAssembler(f.store, f.opts), f.generator, f.opts)
}

func (f *pipelineFixture) coordinator() *Coordinator {
	degradation := NewDegradationController(f.circuit, NewPolicyRouter(f.generator, f.opts), NewHeuristicRouter(f.opts))
	return NewCoordinator(degradation, f.executors(), NewAnswerVerifier(f.opts, f.observer), f.observer, f.opts)
}
