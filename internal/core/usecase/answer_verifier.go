package usecase

import (
	"log/slog"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// AnswerVerifier corrects citations and flags sentences without support. It never
// rewrites the answer text.
type AnswerVerifier struct {
	threshold float64
	strictCap float64
	observer  ports.PipelineObserver
}

func NewAnswerVerifier(opts PipelineOptions, observer ports.PipelineObserver) *AnswerVerifier {
	if observer == nil {
		observer = noopObserver{}
	}
	opts = opts.Normalize()
	return &AnswerVerifier{
		threshold: opts.Verifier.OverlapThreshold,
		strictCap: opts.Verifier.StrictConfidenceCap,
		observer:  observer,
	}
}

func (v *AnswerVerifier) Verify(answer *domain.Answer, allow domain.AllowSet) *domain.Answer {
	if answer == nil {
		return nil
	}
	out := cloneAnswer(answer)
	out.Citations = v.filterCitations(out.Citations, allow)
	out.ListedDocIDs = allow.Filter(out.ListedDocIDs)
	out.Coverage = v.coverage(out)
	if out.Coverage != nil && len(out.Coverage.Unsupported) > 0 {
		v.observer.ObserveUnsupportedSentences(len(out.Coverage.Unsupported))
	}
	return out
}

// Strict applies to a verified answer when the caller asked for strictness: an
// answer with unsupported sentences keeps its text but loses confidence and is
// tagged unsupported_content unless it already carries a reason.
func (v *AnswerVerifier) Strict(answer *domain.Answer) *domain.Answer {
	if answer == nil || answer.Coverage == nil || len(answer.Coverage.Unsupported) == 0 {
		return answer
	}
	answer.Confidence = min(answer.Confidence, v.strictCap)
	if answer.Reason == domain.ReasonNone {
		answer.Reason = domain.ReasonUnsupportedContent
	}
	return answer
}

func (v *AnswerVerifier) filterCitations(citations []domain.Citation, allow domain.AllowSet) []domain.Citation {
	kept := make([]domain.Citation, 0, len(citations))
	dropped := 0
	for _, c := range citations {
		if !allow.Contains(c.DocumentID) {
			dropped++
			continue
		}
		c.Snippet = truncateRunes(c.Snippet, domain.MaxSnippetLength)
		kept = append(kept, c)
	}
	if dropped > 0 {
		slog.Warn("citation_filtered", "dropped", dropped, "kind", domain.ErrAccessViolation.Error())
		v.observer.ObserveFilteredCitations(dropped)
	}
	return kept
}

// coverage compares each answer sentence with every evidence sentence using
// |A ∩ B| / max(|A|, |B|). Evidence is split into sentences first so long chunks do
// not dilute the ratio.
func (v *AnswerVerifier) coverage(answer *domain.Answer) *domain.CoverageReport {
	snippets := make([]string, 0, len(answer.Evidence)+len(answer.Citations))
	snippets = append(snippets, answer.Evidence...)
	for _, c := range answer.Citations {
		if c.Snippet != "" {
			snippets = append(snippets, c.Snippet)
		}
	}
	if len(snippets) == 0 {
		return &domain.CoverageReport{Checked: false}
	}

	var evidenceSets []map[string]struct{}
	for _, snippet := range snippets {
		for _, sentence := range splitSentences(snippet) {
			if set := toTokenSet(sentence); len(set) > 0 {
				evidenceSets = append(evidenceSets, set)
			}
		}
	}

	report := &domain.CoverageReport{Checked: true}
	for i, sentence := range splitSentences(answer.Text) {
		tokens := toTokenSet(sentence)
		if len(tokens) == 0 {
			continue
		}
		report.Sentences++
		best := 0.0
		for _, ev := range evidenceSets {
			if o := overlapLargest(tokens, ev); o > best {
				best = o
			}
		}
		if best < v.threshold {
			report.Unsupported = append(report.Unsupported, domain.UnsupportedSentence{
				Index:       i,
				Text:        sentence,
				BestOverlap: best,
			})
		}
	}
	return report
}
