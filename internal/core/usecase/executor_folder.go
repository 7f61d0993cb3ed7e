package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

var (
	genericCountNouns = map[string]struct{}{
		"document": {}, "documents": {}, "doc": {}, "docs": {}, "file": {}, "files": {},
		"item": {}, "items": {}, "number": {}, "count": {}, "folder": {}, "here": {},
		"scope": {}, "total": {}, "there": {},
	}
	amountPhrases = []string{"total", "amount", "sum", "how much", "balance", "price", "cost", "grand total", "amount due"}
	amountPattern = regexp.MustCompile(`(?i)\b(grand total|total amount|amount due|total|balance due|balance|amount|sum)\b[^0-9\n\-]{0,24}(-?\d[\d.,' ]*\d|\d)`)
)

// folderQA answers a question spanning several documents of the allow set.
func (x *TaskExecutors) folderQA(ctx context.Context, task domain.FolderQATask, req execRequest) *domain.Answer {
	question := req.query.Text
	text := normalizedPhrase(question)

	if containsPhrase(text, countPhrases) {
		if answer, ok := x.countShortcut(ctx, req); ok {
			return answer
		}
	}

	shortlist := task.Shortlist
	if shortlist <= 0 {
		shortlist = x.opts.FolderShortlist
	}
	candidates := x.retriever.HybridSearch(ctx, req.retrieval(req.allow, x.opts.CandidateLimit), req.degraded)
	if len(candidates) == 0 {
		return noConfidentMatch(domain.TaskFolderQA, "I could not find documents in this folder that answer the question.")
	}
	if len(candidates) > shortlist {
		candidates = candidates[:shortlist]
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.DocumentID)
	}
	docs, byID := x.fetchDocuments(ctx, ids)

	contexts := make([]domain.ContextSet, 0, len(docs))
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		var anchors []domain.ContentMatch
		if !req.degraded {
			anchors = x.retriever.SearchContent(ctx, RetrievalRequest{
				Text:  question,
				OrgID: req.query.Scope.OrgID,
				Allow: domain.NewAllowSet(doc.ID),
				Limit: x.assembler.opts.AnchorLimit,
			})
		}
		set := x.assembler.Assemble(ctx, []domain.Document{doc}, question, anchors)
		if set.Empty() {
			continue
		}
		contexts = append(contexts, set)
		req.progress.Offer(x.synthesized(question, byID, contexts))
	}
	if len(contexts) == 0 {
		return noConfidentMatch(domain.TaskFolderQA, "The matching documents have no readable content for this question.")
	}

	if containsPhrase(text, amountPhrases) {
		if answer, ok := x.amountShortcut(docs, byID, contexts); ok {
			return answer
		}
	}

	fallback := x.synthesized(question, byID, contexts)
	if req.degraded {
		fallback.Degraded = true
		fallback.Reason = req.reason
		return fallback
	}
	generated, reason, ok := x.generate(ctx, domain.TaskFolderQA, question, contexts, byID)
	if !ok {
		fallback.Degraded = true
		fallback.Reason = reason
		return fallback
	}
	return &domain.Answer{
		Text:       generated,
		Citations:  x.citations(contexts, byID),
		Task:       domain.TaskFolderQA,
		Confidence: contextConfidence(contexts),
		Evidence:   evidence(contexts),
	}
}

// countShortcut answers "how many documents" from the allow set, and "how many X"
// from the fused candidates, without generation.
func (x *TaskExecutors) countShortcut(ctx context.Context, req execRequest) (*domain.Answer, bool) {
	specific := make([]string, 0, 2)
	for _, term := range contentTerms(req.query.Text) {
		if _, generic := genericCountNouns[term]; !generic {
			specific = append(specific, term)
		}
	}
	if len(specific) == 0 {
		text := fmt.Sprintf("There are %d documents in this scope.", req.allow.Len())
		return &domain.Answer{
			Text:       text,
			Citations:  []domain.Citation{},
			Task:       domain.TaskFolderQA,
			Confidence: 0.95,
			Evidence:   []string{text},
		}, true
	}
	if !looksLikeCountOfThings(req.query.Text) {
		return nil, false
	}

	candidates := x.retriever.HybridSearch(ctx, req.retrieval(req.allow, x.opts.CandidateLimit), req.degraded)
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.DocumentID)
	}
	docs, _ := x.fetchDocuments(ctx, ids)
	lines := []string{fmt.Sprintf("I found %d matching documents for %q.", len(docs), strings.Join(specific, " "))}
	for i, d := range docs {
		if i >= x.opts.ListLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, listingLine(d)))
	}
	answer := &domain.Answer{
		Text:         strings.Join(lines, "\n"),
		Citations:    []domain.Citation{},
		Task:         domain.TaskFolderQA,
		Confidence:   0.75,
		ListedDocIDs: ids,
		Evidence:     lines,
	}
	if req.degraded {
		answer.Degraded = true
		answer.Reason = req.reason
	}
	return answer, true
}

// looksLikeCountOfThings matches "how many <noun> ..." but not "how many hours did ...".
func looksLikeCountOfThings(question string) bool {
	text := normalizedPhrase(question)
	for _, verb := range []string{" did ", " does ", " do ", " were spent ", " was "} {
		if strings.Contains(text, verb) {
			return false
		}
	}
	return true
}

// amountShortcut extracts labelled amounts per document with a pattern match.
// It only answers when every shortlisted document yields a value.
func (x *TaskExecutors) amountShortcut(docs []domain.Document, byID map[string]domain.Document, contexts []domain.ContextSet) (*domain.Answer, bool) {
	lines := make([]string, 0, len(contexts))
	citations := make([]domain.Citation, 0, len(contexts))
	for _, set := range contexts {
		found := false
		for _, chunk := range set.Chunks {
			match := amountPattern.FindStringSubmatch(chunk.Text)
			if match == nil {
				continue
			}
			doc := byID[chunk.DocumentID]
			lines = append(lines, fmt.Sprintf("%s: %s %s", doc.DisplayName(), strings.ToLower(match[1]), strings.TrimSpace(match[2])))
			citations = append(citations, domain.Citation{
				DocumentID:  chunk.DocumentID,
				Page:        chunk.Page,
				Snippet:     truncateRunes(chunk.Text, min(x.opts.SnippetLength, domain.MaxSnippetLength)),
				DisplayName: doc.DisplayName(),
			})
			found = true
			break
		}
		if !found {
			return nil, false
		}
	}
	if len(lines) == 0 || len(lines) < len(docs) {
		return nil, false
	}
	return &domain.Answer{
		Text:       strings.Join(lines, "\n"),
		Citations:  citations,
		Task:       domain.TaskFolderQA,
		Confidence: 0.8,
		Evidence:   evidence(contexts),
	}, true
}

// synthesized is the extractive multi-document answer over the contexts assembled so far.
func (x *TaskExecutors) synthesized(question string, byID map[string]domain.Document, contexts []domain.ContextSet) *domain.Answer {
	text := extractiveAnswer(question, byID, contexts, max(x.opts.ExtractiveSentence, len(contexts)))
	return &domain.Answer{
		Text:       text,
		Citations:  x.citations(contexts, byID),
		Task:       domain.TaskFolderQA,
		Confidence: 0.4,
		Evidence:   evidence(contexts),
	}
}
