package prompt

import (
	"strings"
	"testing"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

func TestAnswerNumbersSourcesWithPages(t *testing.T) {
	p := 3
	b := NewBuilder(2000)
	out := b.Answer(domain.GenerationRequest{
		Question:     "What is the notice period?",
		Instructions: "Keep it short.",
		Sources: []domain.PromptSource{
			{Label: "Contract", DocumentID: "d1", Page: &p, Text: "The notice period is three months."},
			{DocumentID: "d2", Text: "Unrelated."},
		},
	})

	for _, want := range []string{"[1] Contract, page 3", "The notice period is three months.", "[2] d2", "Keep it short.", "What is the notice period?"} {
		if !strings.Contains(out, want) {
			t.Fatalf("prompt misses %q:\n%s", want, out)
		}
	}
}

func TestAnswerDropsSourcesOverBudget(t *testing.T) {
	b := NewBuilder(300)
	long := strings.Repeat("payment terms apply to every invoice ", 60)
	out := b.Answer(domain.GenerationRequest{
		Question: "terms?",
		Sources: []domain.PromptSource{
			{DocumentID: "first", Text: long},
			{DocumentID: "second", Text: long},
		},
	})
	if strings.Contains(out, "[2] second") {
		t.Fatalf("second source should not fit the budget")
	}
	if !strings.Contains(out, "[1] first") {
		t.Fatalf("first source should be truncated, not dropped")
	}
	if b.Count(out) > 340 {
		t.Fatalf("prompt exceeds budget: %d tokens", b.Count(out))
	}
}

func TestClassificationListsSchemaKeys(t *testing.T) {
	b := NewBuilder(0)
	out := b.Classification("route this", map[string]any{
		"properties": map[string]any{"task": map[string]any{}, "confidence": map[string]any{}},
		"required":   []string{"task"},
	})
	if !strings.HasSuffix(strings.TrimSpace(out), "confidence, task (required). No markdown.") {
		t.Fatalf("unexpected classification prompt %q", out)
	}
}
