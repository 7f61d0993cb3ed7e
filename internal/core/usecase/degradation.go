package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// DegradationController reads the shared circuit and decides whether the pipeline
// runs on AI providers or on the heuristic substitutes.
type DegradationController struct {
	circuit   ports.CircuitReader
	primary   TaskRouter
	heuristic TaskRouter
}

func NewDegradationController(circuit ports.CircuitReader, primary TaskRouter, heuristic TaskRouter) *DegradationController {
	if heuristic == nil {
		heuristic = NewHeuristicRouter(DefaultPipelineOptions())
	}
	if primary == nil {
		primary = heuristic
	}
	return &DegradationController{circuit: circuit, primary: primary, heuristic: heuristic}
}

// Degraded reports whether provider calls should be bypassed for this request.
func (d *DegradationController) Degraded() (bool, domain.ReasonCode) {
	if d.circuit == nil {
		return false, domain.ReasonNone
	}
	if d.circuit.CircuitState().Open() {
		return true, domain.ReasonCircuitOpen
	}
	return false, domain.ReasonNone
}

// Router returns the classifier matching the current provider health.
func (d *DegradationController) Router(degraded bool) TaskRouter {
	if degraded {
		return d.heuristic
	}
	return d.primary
}

// extractiveAnswer builds a deterministic answer from context sentences that best
// cover the question. It is the response generator of degraded mode.
func extractiveAnswer(question string, docs map[string]domain.Document, contexts []domain.ContextSet, maxSentences int) string {
	type ranked struct {
		text  string
		doc   string
		score float64
		order int
	}
	query := toTokenSet(strings.Join(contentTerms(question), " "))
	var pool []ranked
	seen := make(map[string]struct{})
	order := 0
	for _, set := range contexts {
		for _, chunk := range set.Chunks {
			for _, sentence := range splitSentences(chunk.Text) {
				key := strings.ToLower(sentence)
				if _, dup := seen[key]; dup || len(splitAlphaNumLower(sentence)) < 3 {
					continue
				}
				seen[key] = struct{}{}
				pool = append(pool, ranked{
					text:  sentence,
					doc:   chunk.DocumentID,
					score: queryCoverage(query, toTokenSet(sentence)),
					order: order,
				})
				order++
			}
		}
	}
	if len(pool) == 0 {
		return ""
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].order < pool[j].order
	})
	if len(pool) > maxSentences {
		pool = pool[:maxSentences]
	}

	multiDoc := len(docs) > 1
	lines := make([]string, 0, len(pool)+1)
	lines = append(lines, "Most relevant passages:")
	for _, p := range pool {
		if multiDoc {
			lines = append(lines, fmt.Sprintf("- %s: %s", docs[p.doc].DisplayName(), p.text))
			continue
		}
		lines = append(lines, "- "+p.text)
	}
	return strings.Join(lines, "\n")
}

// metadataSummary describes a document from its columns alone.
func metadataSummary(doc domain.Document) string {
	parts := make([]string, 0, 6)
	parts = append(parts, doc.DisplayName())
	var details []string
	if doc.DocType != "" {
		details = append(details, doc.DocType)
	}
	if doc.DocumentDate != nil {
		details = append(details, doc.DocumentDate.Format("2006-01-02"))
	}
	if doc.Category != "" {
		details = append(details, doc.Category)
	}
	if len(details) > 0 {
		parts = append(parts, "("+strings.Join(details, ", ")+")")
	}
	if doc.Sender != "" {
		parts = append(parts, "from "+doc.Sender)
	}
	if doc.Receiver != "" {
		parts = append(parts, "to "+doc.Receiver)
	}
	line := strings.Join(parts, " ")
	if doc.Subject != "" {
		line += ". Subject: " + doc.Subject
	}
	if doc.Description != "" {
		line += ". " + strings.TrimSuffix(doc.Description, ".")
	}
	return line + "."
}

var (
	listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d{1,2}[.)])\s+`)
	listNumber = regexp.MustCompile(`^\d{1,2}[.)]$`)
)

// splitSentences splits prose on terminal punctuation and line breaks.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(listMarker.ReplaceAllString(b.String(), ""))
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			next := i + 1
			if listNumber.MatchString(strings.TrimSpace(b.String())) {
				continue
			}
			if next >= len(runes) || runes[next] == ' ' || runes[next] == '\n' || runes[next] == '\t' {
				flush()
			}
		}
	}
	flush()
	return out
}
