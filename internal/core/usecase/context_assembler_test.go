package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

func TestAssembleIsBoundedRegardlessOfAnchors(t *testing.T) {
	store := newFakeStore()
	doc := domain.Document{ID: "doc-1", Title: "Handbook"}
	var anchors []domain.ContentMatch
	for i := 0; i < 40; i++ {
		text := fmt.Sprintf("section %d covers topic %d with unique words w%d x%d", i, i, i, i)
		store.chunks = append(store.chunks, domain.Chunk{DocumentID: "doc-1", Page: page(i), Text: text})
		anchors = append(anchors, domain.ContentMatch{DocumentID: "doc-1", Page: page(i), Content: text, Similarity: 0.9 - float64(i)/100})
	}
	a := NewContextAssembler(store, testOptions())

	set := a.Assemble(context.Background(), []domain.Document{doc}, "topic", anchors)
	if len(set.Chunks) > a.MaxChunks() {
		t.Fatalf("expected at most %d chunks, got %d", a.MaxChunks(), len(set.Chunks))
	}
	if len(set.Chunks) == 0 {
		t.Fatalf("expected chunks")
	}
}

func TestAssembleExpandsNeighbourPages(t *testing.T) {
	store := newFakeStore()
	store.chunks = []domain.Chunk{
		{DocumentID: "doc-1", Page: page(1), Text: "Introduction to the lease agreement between parties."},
		{DocumentID: "doc-1", Page: page(2), Text: "Rent is due on the first day of each month."},
		{DocumentID: "doc-1", Page: page(3), Text: "Late payments incur a penalty of five percent."},
		{DocumentID: "doc-1", Page: page(7), Text: "Signatures and witnesses appear on this page."},
	}
	anchors := []domain.ContentMatch{{DocumentID: "doc-1", Page: page(2), Content: store.chunks[1].Text, Similarity: 0.82}}
	a := NewContextAssembler(store, testOptions())

	set := a.Assemble(context.Background(), []domain.Document{{ID: "doc-1"}}, "when is rent due", anchors)
	pages := map[int]bool{}
	for _, c := range set.Chunks {
		pages[*c.Page] = true
	}
	if !pages[1] || !pages[2] || !pages[3] {
		t.Fatalf("expected pages 1-3 in context, got %v", pages)
	}
	if pages[7] {
		t.Fatalf("page 7 is outside the window")
	}
	if set.Method != domain.SelectionWindow {
		t.Fatalf("expected window method, got %s", set.Method)
	}
	if len(set.Chunks) != 3 {
		t.Fatalf("expected anchor deduplicated against its own page, got %d chunks", len(set.Chunks))
	}
	if set.Chunks[0].Origin != domain.OriginAnchor {
		t.Fatalf("expected anchor first, got %s", set.Chunks[0].Origin)
	}
}

func TestAssembleAddsKeywordAnchorsForStructuredDocuments(t *testing.T) {
	store := newFakeStore()
	store.chunks = []domain.Chunk{
		{DocumentID: "inv", Page: page(1), Text: "Item list: consulting services, travel."},
		{DocumentID: "inv", Page: page(4), Text: "Grand total 1,250.00 EUR"},
	}
	anchors := []domain.ContentMatch{{DocumentID: "inv", Page: page(1), Content: store.chunks[0].Text, Similarity: 0.7}}
	a := NewContextAssembler(store, testOptions())

	set := a.Assemble(context.Background(), []domain.Document{{ID: "inv", DocType: "Invoice"}}, "what is the total", anchors)
	found := false
	for _, c := range set.Chunks {
		if strings.Contains(c.Text, "Grand total") {
			found = true
			if c.Origin != domain.OriginKeyword {
				t.Fatalf("expected keyword origin, got %s", c.Origin)
			}
		}
	}
	if !found {
		t.Fatalf("expected keyword anchor with the total, got %+v", set.Chunks)
	}
}

func TestAssembleFallsBackWithoutAnchors(t *testing.T) {
	store := newFakeStore()
	store.chunks = []domain.Chunk{
		{DocumentID: "doc-1", Page: page(1), Text: "Opening remarks."},
		{DocumentID: "doc-1", Page: page(2), Text: "The warranty lasts two years."},
	}
	a := NewContextAssembler(store, testOptions())

	set := a.Assemble(context.Background(), []domain.Document{{ID: "doc-1"}}, "how long is the warranty", nil)
	if set.Method != domain.SelectionKeywordFallback {
		t.Fatalf("expected keyword-fallback, got %s", set.Method)
	}
	if len(set.Chunks) != 1 || !strings.Contains(set.Chunks[0].Text, "warranty") {
		t.Fatalf("expected the warranty chunk, got %+v", set.Chunks)
	}

	set = a.Assemble(context.Background(), []domain.Document{{ID: "doc-1"}}, "zebra", nil)
	if len(set.Chunks) != 2 {
		t.Fatalf("expected leading chunks when nothing matches, got %d", len(set.Chunks))
	}
}

func TestDedupeBySignatureKeepsMostRelevant(t *testing.T) {
	long := strings.Repeat("same prefix text ", 20)
	items := []scoredChunk{
		newScoredChunk(domain.Chunk{DocumentID: "d", Text: long + "tail one"}, 0.4, 60),
		newScoredChunk(domain.Chunk{DocumentID: "d", Text: long + "tail two"}, 0.9, 60),
		newScoredChunk(domain.Chunk{DocumentID: "other", Text: long}, 0.1, 60),
	}
	out := dedupeBySignature(items, 200)
	if len(out) != 2 {
		t.Fatalf("expected 2 items after dedupe, got %d", len(out))
	}
	if out[0].relevance != 0.9 {
		t.Fatalf("expected the more relevant duplicate to survive, got %v", out[0].relevance)
	}
}

func TestSelectMMRPrefersDiversity(t *testing.T) {
	items := []scoredChunk{
		newScoredChunk(domain.Chunk{Text: "payment terms net thirty days invoice"}, 0.95, 60),
		newScoredChunk(domain.Chunk{Text: "payment terms net thirty days invoice copy"}, 0.94, 60),
		newScoredChunk(domain.Chunk{Text: "delivery address warehouse berlin"}, 0.7, 60),
	}
	out := selectMMR(items, 2, 0.7)
	if len(out) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(out))
	}
	if !strings.Contains(out[1].chunk.Text, "delivery") {
		t.Fatalf("expected diverse second pick, got %q", out[1].chunk.Text)
	}
}

func TestLooksTabular(t *testing.T) {
	if !looksTabular("| item | qty | price |\n| a | 1 | 2 |") {
		t.Fatalf("expected pipe table to be tabular")
	}
	if looksTabular("This is a narrative paragraph without many numbers at all, just words.") {
		t.Fatalf("expected prose not to be tabular")
	}
}
