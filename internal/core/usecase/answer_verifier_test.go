package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

func TestVerifierDropsCitationsOutsideAllowSet(t *testing.T) {
	observer := &recordingObserver{}
	v := NewAnswerVerifier(testOptions(), observer)
	answer := &domain.Answer{
		Text: "The notice period is three months.",
		Citations: []domain.Citation{
			{DocumentID: "d1", Snippet: "The notice period is three months."},
			{DocumentID: "other-org", Snippet: "Board salaries."},
			{DocumentID: "d2", Snippet: strings.Repeat("x", 900)},
		},
		ListedDocIDs: []string{"d2", "other-org"},
	}

	out := v.Verify(answer, domain.NewAllowSet("d1", "d2"))

	if len(out.Citations) != 2 || out.Citations[0].DocumentID != "d1" || out.Citations[1].DocumentID != "d2" {
		t.Fatalf("unexpected citations %+v", out.Citations)
	}
	if n := len([]rune(out.Citations[1].Snippet)); n > domain.MaxSnippetLength {
		t.Fatalf("snippet not truncated: %d runes", n)
	}
	if len(out.ListedDocIDs) != 1 || out.ListedDocIDs[0] != "d2" {
		t.Fatalf("unexpected listed ids %v", out.ListedDocIDs)
	}
	if observer.filtered != 1 {
		t.Fatalf("expected one filtered citation to be observed, got %d", observer.filtered)
	}
	if len(answer.Citations) != 3 {
		t.Fatalf("verify must not mutate its input")
	}
}

func TestVerifierFlagsUnsupportedSentences(t *testing.T) {
	observer := &recordingObserver{}
	v := NewAnswerVerifier(testOptions(), observer)
	answer := &domain.Answer{
		Text:     "The notice period is three months. Penguins migrate across Antarctica every winter.",
		Evidence: []string{"Termination requires written notice. The notice period is three months."},
	}

	out := v.Verify(answer, domain.NewAllowSet("d1"))

	if out.Text != answer.Text {
		t.Fatalf("verify must not rewrite the text")
	}
	if out.Coverage == nil || !out.Coverage.Checked || out.Coverage.Sentences != 2 {
		t.Fatalf("unexpected coverage %+v", out.Coverage)
	}
	if len(out.Coverage.Unsupported) != 1 || out.Coverage.Unsupported[0].Index != 1 {
		t.Fatalf("expected the second sentence to be unsupported, got %+v", out.Coverage.Unsupported)
	}
	if observer.unsupported != 1 {
		t.Fatalf("expected unsupported sentence to be observed")
	}
}

func TestVerifierSkipsCoverageWithoutEvidence(t *testing.T) {
	v := NewAnswerVerifier(testOptions(), nil)
	out := v.Verify(&domain.Answer{Text: "There are 4 documents in this scope."}, domain.NewAllowSet("d1"))
	if out.Coverage == nil || out.Coverage.Checked {
		t.Fatalf("expected unchecked coverage, got %+v", out.Coverage)
	}
}

func TestSplitSentencesKeepsNumbersAndStripsListMarkers(t *testing.T) {
	got := splitSentences("Most relevant passages:\n- 2024 revenue grew. Costs fell.\n1. First item")
	want := []string{"Most relevant passages:", "2024 revenue grew.", "Costs fell.", "First item"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestStrictCapsConfidenceOfPartlySupportedAnswer(t *testing.T) {
	v := NewAnswerVerifier(testOptions(), nil)
	text := "The notice period is three months. Penguins migrate across Antarctica every winter."
	answer := v.Verify(&domain.Answer{
		Text:       text,
		Confidence: 0.9,
		Evidence:   []string{"The notice period is three months."},
	}, domain.NewAllowSet("d1"))

	out := v.Strict(answer)

	if out.Text != text {
		t.Fatalf("strict must keep the text, got %q", out.Text)
	}
	if out.Confidence != 0.3 {
		t.Fatalf("expected confidence capped at 0.3, got %v", out.Confidence)
	}
	if out.Reason != domain.ReasonUnsupportedContent {
		t.Fatalf("expected unsupported_content, got %q", out.Reason)
	}
}

func TestStrictKeepsExistingReasonAndSupportedAnswers(t *testing.T) {
	v := NewAnswerVerifier(testOptions(), nil)

	degraded := v.Strict(&domain.Answer{
		Confidence: 0.2,
		Reason:     domain.ReasonTimeout,
		Coverage:   &domain.CoverageReport{Checked: true, Sentences: 1, Unsupported: []domain.UnsupportedSentence{{Index: 0}}},
	})
	if degraded.Reason != domain.ReasonTimeout || degraded.Confidence != 0.2 {
		t.Fatalf("strict must not replace a reason or raise confidence, got %+v", degraded)
	}

	supported := v.Strict(v.Verify(&domain.Answer{
		Text:       "The notice period is three months.",
		Confidence: 0.9,
		Evidence:   []string{"The notice period is three months."},
	}, domain.NewAllowSet("d1")))
	if supported.Confidence != 0.9 || supported.Reason != domain.ReasonNone {
		t.Fatalf("supported answer must pass unchanged, got %+v", supported)
	}
}
