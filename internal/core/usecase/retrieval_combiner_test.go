package usecase

import (
	"context"
	"math"
	"testing"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCombineExcludesDocumentBelowQualityGate(t *testing.T) {
	opts := DefaultPipelineOptions().Retrieval
	out := combineCandidates(
		[]domain.FieldMatch{{DocumentID: "doc-1", Field: "title", Similarity: 0.45, FieldWeight: 1.0}},
		[]domain.ContentMatch{{DocumentID: "doc-1", Similarity: 0.2}},
		nil,
		0,
		opts,
	)
	if len(out) != 0 {
		t.Fatalf("expected doc with maxScore 0.45 to be excluded, got %+v", out)
	}
}

func TestCombineUsesMaxNotSum(t *testing.T) {
	opts := DefaultPipelineOptions().Retrieval
	out := combineCandidates(
		[]domain.FieldMatch{{DocumentID: "doc-1", Field: "title", Similarity: 0.8, FieldWeight: 0.5}},
		[]domain.ContentMatch{{DocumentID: "doc-1", Similarity: 0.6}},
		[]domain.KeywordHit{{DocumentID: "doc-1", Field: "title", Similarity: 1.0}},
		0,
		opts,
	)
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	c := out[0]
	if !approx(c.FusedScore, 0.7) {
		t.Fatalf("expected fused score 0.7 (keyword 1.0*0.7), got %v", c.FusedScore)
	}
	if !approx(c.MaxScore, 1.0) {
		t.Fatalf("expected max score 1.0, got %v", c.MaxScore)
	}
	if len(c.Provenance) != 3 {
		t.Fatalf("expected three sources, got %v", c.Provenance)
	}
	if !approx(c.SourceScores[domain.SourceContent], 0.54) {
		t.Fatalf("expected content contribution 0.54, got %v", c.SourceScores[domain.SourceContent])
	}
}

func TestCombineAddingSourceNeverLowersScore(t *testing.T) {
	opts := DefaultPipelineOptions().Retrieval
	meta := []domain.FieldMatch{{DocumentID: "doc-1", Field: "subject", Similarity: 0.9, FieldWeight: 0.95}}
	base := combineCandidates(meta, nil, nil, 0, opts)
	if len(base) != 1 {
		t.Fatalf("expected base candidate")
	}

	additions := [][]domain.ContentMatch{
		{{DocumentID: "doc-1", Similarity: 0.21}},
		{{DocumentID: "doc-1", Similarity: 0.99}},
		{{DocumentID: "doc-1", Similarity: 0.5}},
	}
	for _, content := range additions {
		out := combineCandidates(meta, content, nil, 0, opts)
		if len(out) != 1 {
			t.Fatalf("expected one candidate, got %d", len(out))
		}
		if out[0].FusedScore < base[0].FusedScore {
			t.Fatalf("adding content %.2f lowered score %.3f -> %.3f", content[0].Similarity, base[0].FusedScore, out[0].FusedScore)
		}
	}
}

func TestCombineKeywordGateUsesRawSimilarity(t *testing.T) {
	opts := DefaultPipelineOptions().Retrieval
	out := combineCandidates(nil, nil, []domain.KeywordHit{
		{DocumentID: "doc-desc", Similarity: 0.5},
		{DocumentID: "doc-floor", Similarity: 0.2},
	}, 0, opts)
	if len(out) != 1 || out[0].DocumentID != "doc-desc" {
		t.Fatalf("expected only doc-desc, got %+v", out)
	}
	if !approx(out[0].FusedScore, 0.35) {
		t.Fatalf("expected fused 0.35, got %v", out[0].FusedScore)
	}
}

func TestCombineRanksAndCaps(t *testing.T) {
	opts := DefaultPipelineOptions().Retrieval
	var content []domain.ContentMatch
	for i := 0; i < 30; i++ {
		content = append(content, domain.ContentMatch{
			DocumentID: string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Similarity: 0.5 + float64(i)/100,
		})
	}
	out := combineCandidates(nil, content, nil, 0, opts)
	if len(out) != 20 {
		t.Fatalf("expected default cap 20, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].FusedScore > out[i-1].FusedScore {
			t.Fatalf("expected descending order at %d", i)
		}
		if out[i].MaxScore < 0.5 {
			t.Fatalf("quality gate violated: %+v", out[i])
		}
	}
}

func TestHybridSearchRanksKeywordTitleMatches(t *testing.T) {
	store := newFakeStore(
		domain.Document{ID: "inv-1", Title: "Invoice January"},
		domain.Document{ID: "inv-2", Title: "Invoice February"},
		domain.Document{ID: "inv-3", Title: "Invoice March"},
		domain.Document{ID: "memo", Title: "Team memo"},
		domain.Document{ID: "plan", Title: "Roadmap"},
		domain.Document{ID: "folder", Title: "Invoices", IsFolder: true},
	)
	f := newPipelineFixture(store)
	f.embedder.err = errProviderDown
	allow := domain.NewAllowSet("inv-1", "inv-2", "inv-3", "memo", "plan", "folder")

	out := f.retriever().HybridSearch(context.Background(), RetrievalRequest{Text: "find docs related to invoices", Allow: allow}, false)
	if len(out) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", out)
	}
	for i, want := range []string{"inv-1", "inv-2", "inv-3"} {
		if out[i].DocumentID != want {
			t.Fatalf("expected %s at %d, got %s", want, i, out[i].DocumentID)
		}
		if !approx(out[i].FusedScore, 0.7) {
			t.Fatalf("expected keyword-weighted score 0.7, got %v", out[i].FusedScore)
		}
	}
}

func TestHybridSearchServesFromCache(t *testing.T) {
	store := newFakeStore(domain.Document{ID: "inv-1", Title: "Invoice January"})
	f := newPipelineFixture(store)
	cache := &fakeCache{}
	r := NewRetriever(f.embedder, store, f.opts, WithCandidateCache(cache))
	req := RetrievalRequest{Text: "invoice", Allow: domain.NewAllowSet("inv-1")}

	first := r.HybridSearch(context.Background(), req, true)
	second := r.HybridSearch(context.Background(), req, true)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one candidate in both calls")
	}
	if store.keywordCalls != 1 {
		t.Fatalf("expected second call served from cache, keyword calls=%d", store.keywordCalls)
	}
	if cache.sets != 1 {
		t.Fatalf("expected one cache write, got %d", cache.sets)
	}
}

func TestCandidateCacheKeyDependsOnScope(t *testing.T) {
	a := candidateCacheKey(RetrievalRequest{Text: "Invoice?", Allow: domain.NewAllowSet("1", "2")}, 20, false)
	b := candidateCacheKey(RetrievalRequest{Text: "invoice", Allow: domain.NewAllowSet("2", "1")}, 20, false)
	c := candidateCacheKey(RetrievalRequest{Text: "invoice", Allow: domain.NewAllowSet("1")}, 20, false)
	if a != b {
		t.Fatalf("expected normalized query and id order to share a key")
	}
	if a == c {
		t.Fatalf("expected different allow sets to produce different keys")
	}
}
