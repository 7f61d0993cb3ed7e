package usecase

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// ContextAssembler turns anchor chunks into a bounded, diverse ContextSet.
type ContextAssembler struct {
	store ports.DocumentStore
	opts  ContextOptions
}

func NewContextAssembler(store ports.DocumentStore, opts PipelineOptions) *ContextAssembler {
	return &ContextAssembler{store: store, opts: opts.Normalize().Context}
}

// MaxChunks is the upper bound of every ContextSet this assembler returns.
func (a *ContextAssembler) MaxChunks() int {
	return a.opts.MaxChunks
}

// Assemble builds evidence for the given documents. Anchors outside docs are ignored.
func (a *ContextAssembler) Assemble(ctx context.Context, docs []domain.Document, question string, anchors []domain.ContentMatch) domain.ContextSet {
	if len(docs) == 0 {
		return domain.ContextSet{Method: domain.SelectionKeywordFallback}
	}

	pool := make([]scoredChunk, 0, 32)
	hasAnchors := false
	for _, doc := range docs {
		docAnchors := anchorsFor(doc.ID, anchors, a.opts.AnchorLimit)
		if len(docAnchors) > 0 {
			hasAnchors = true
		}
		for _, m := range docAnchors {
			pool = append(pool, a.scored(domain.Chunk{
				DocumentID: m.DocumentID,
				Page:       m.Page,
				Text:       m.Content,
				Similarity: floatPtr(m.Similarity),
				Origin:     domain.OriginAnchor,
			}, m.Similarity))
		}
		pool = append(pool, a.window(ctx, doc.ID, docAnchors)...)
		if a.structured(doc, docAnchors) {
			pool = append(pool, a.keywordAnchors(ctx, doc.ID, question)...)
		}
	}

	method := domain.SelectionAnchor
	if !hasAnchors {
		method = domain.SelectionKeywordFallback
		for _, doc := range docs {
			pool = append(pool, a.fallback(ctx, doc.ID, question)...)
		}
	}

	pool = dedupeBySignature(pool, a.opts.SignatureLength)
	selected := selectMMR(pool, a.opts.MaxChunks, a.opts.Lambda)

	out := domain.ContextSet{Chunks: make([]domain.Chunk, 0, len(selected)), Method: method}
	for _, s := range selected {
		if method == domain.SelectionAnchor && s.chunk.Origin != domain.OriginAnchor {
			out.Method = domain.SelectionWindow
		}
		out.Chunks = append(out.Chunks, s.chunk)
	}
	return out
}

func (a *ContextAssembler) scored(chunk domain.Chunk, relevance float64) scoredChunk {
	return newScoredChunk(chunk, clamp01(relevance), a.opts.SimilarityTokens)
}

// window fetches the chunks on every page within WindowRadius of an anchor page.
func (a *ContextAssembler) window(ctx context.Context, documentID string, anchors []domain.ContentMatch) []scoredChunk {
	best := make(map[int]float64)
	for _, m := range anchors {
		if m.Page == nil {
			continue
		}
		for p := *m.Page - a.opts.WindowRadius; p <= *m.Page+a.opts.WindowRadius; p++ {
			if p < 0 {
				continue
			}
			best[p] = max(best[p], m.Similarity)
		}
	}
	if len(best) == 0 {
		return nil
	}

	pages := make([]int, 0, len(best))
	for p := range best {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	chunks, err := a.store.ChunksByPages(ctx, documentID, pages, a.opts.ChunksPerPage)
	if err != nil {
		slog.Warn("context_window_failed", "document_id", documentID, "error", err)
		return nil
	}

	out := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Page == nil || c.DocumentID != documentID {
			continue
		}
		anchorSim, ok := best[*c.Page]
		if !ok {
			continue
		}
		c.Origin = domain.OriginWindow
		out = append(out, a.scored(c, anchorSim*a.opts.WindowDecay))
	}
	return out
}

// keywordAnchors pulls chunks with high-value phrases regardless of similarity.
func (a *ContextAssembler) keywordAnchors(ctx context.Context, documentID, question string) []scoredChunk {
	phrases := append([]string(nil), a.opts.KeywordPhrases...)
	chunks, err := a.store.ChunksContaining(ctx, documentID, phrases, a.opts.KeywordAnchorLimit)
	if err != nil {
		slog.Warn("context_keyword_anchors_failed", "document_id", documentID, "error", err)
		return nil
	}
	query := toTokenSet(strings.Join(contentTerms(question), " "))
	out := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		c.Origin = domain.OriginKeyword
		relevance := a.opts.KeywordRelevance + 0.5*queryCoverage(query, toTokenSet(c.Text))
		out = append(out, a.scored(c, relevance))
	}
	return out
}

// fallback is used when no anchor survived: question terms first, then leading chunks.
func (a *ContextAssembler) fallback(ctx context.Context, documentID, question string) []scoredChunk {
	terms := contentTerms(question)
	query := toTokenSet(strings.Join(terms, " "))

	var chunks []domain.Chunk
	if len(terms) > 0 {
		found, err := a.store.ChunksContaining(ctx, documentID, termVariants(terms), a.opts.MaxChunks*2)
		if err != nil {
			slog.Warn("context_fallback_search_failed", "document_id", documentID, "error", err)
		}
		chunks = found
	}
	if len(chunks) == 0 {
		leading, err := a.store.LeadingChunks(ctx, documentID, a.opts.MaxChunks)
		if err != nil {
			slog.Warn("context_leading_chunks_failed", "document_id", documentID, "error", err)
			return nil
		}
		chunks = leading
	}

	out := make([]scoredChunk, 0, len(chunks))
	for i, c := range chunks {
		c.Origin = domain.OriginKeyword
		// Earlier chunks win ties so summaries start at the beginning.
		relevance := 0.3 + 0.6*queryCoverage(query, toTokenSet(c.Text)) - 0.01*float64(i)
		out = append(out, a.scored(c, relevance))
	}
	return out
}

func (a *ContextAssembler) structured(doc domain.Document, anchors []domain.ContentMatch) bool {
	kind := strings.ToLower(doc.DocType + " " + doc.Category + " " + filepath.Ext(doc.Filename))
	for _, t := range a.opts.StructuredTypes {
		if t != "" && strings.Contains(kind, strings.ToLower(t)) {
			return true
		}
	}
	for _, m := range anchors {
		if looksTabular(m.Content) {
			return true
		}
	}
	return false
}

// looksTabular flags text dominated by digits or column separators.
func looksTabular(text string) bool {
	if strings.Count(text, "|") >= 4 || strings.Count(text, "\t") >= 4 {
		return true
	}
	digits, visible := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return visible >= 40 && float64(digits)/float64(visible) >= 0.3
}

func anchorsFor(documentID string, anchors []domain.ContentMatch, limit int) []domain.ContentMatch {
	out := make([]domain.ContentMatch, 0, len(anchors))
	for _, m := range anchors {
		if m.DocumentID == documentID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// dedupeBySignature drops near-identical chunks, keeping the most relevant copy.
func dedupeBySignature(items []scoredChunk, length int) []scoredChunk {
	index := make(map[string]int, len(items))
	out := make([]scoredChunk, 0, len(items))
	for _, item := range items {
		sig := chunkSignature(item.chunk, length)
		if i, ok := index[sig]; ok {
			if item.relevance > out[i].relevance {
				out[i] = item
			}
			continue
		}
		index[sig] = len(out)
		out = append(out, item)
	}
	return out
}

func chunkSignature(c domain.Chunk, length int) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(c.Text), " "))
	runes := []rune(normalized)
	if len(runes) > length {
		runes = runes[:length]
	}
	return c.DocumentID + "|" + string(runes)
}

func floatPtr(v float64) *float64 {
	return &v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
