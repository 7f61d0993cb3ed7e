package usecase

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"for": {}, "by": {}, "with": {}, "from": {}, "at": {}, "as": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "it": {}, "its": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "what": {}, "which": {}, "who": {}, "whom": {}, "whose": {},
	"when": {}, "where": {}, "why": {}, "how": {}, "do": {}, "does": {}, "did": {}, "can": {},
	"could": {}, "would": {}, "should": {}, "will": {}, "me": {}, "my": {}, "i": {}, "we": {},
	"our": {}, "you": {}, "your": {}, "there": {}, "here": {}, "about": {}, "any": {}, "all": {},
	"some": {}, "please": {}, "tell": {}, "give": {}, "show": {}, "find": {}, "list": {},
	"search": {}, "get": {}, "document": {}, "documents": {}, "doc": {}, "docs": {}, "file": {},
	"files": {}, "related": {}, "regarding": {}, "have": {}, "has": {}, "had": {}, "into": {},
	"than": {}, "then": {}, "so": {}, "if": {}, "not": {}, "no": {}, "up": {}, "out": {},
	"many": {}, "much": {}, "say": {}, "says": {}, "mention": {}, "mentions": {}, "look": {},
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// contentTerms returns the distinct non-stopword tokens of s in order of appearance.
func contentTerms(s string) []string {
	tokens := splitAlphaNumLower(s)
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, stop := stopwords[token]; stop {
			continue
		}
		if len([]rune(token)) < 2 {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// termVariants adds a naive singular form so "invoices" also matches "Invoice".
func termVariants(terms []string) []string {
	out := make([]string, 0, len(terms)*2)
	seen := make(map[string]struct{}, len(terms)*2)
	add := func(t string) {
		if len([]rune(t)) < 2 {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, term := range terms {
		add(term)
		switch {
		case strings.HasSuffix(term, "ies") && len(term) > 4:
			add(strings.TrimSuffix(term, "ies") + "y")
		case strings.HasSuffix(term, "ses") && len(term) > 4:
			add(strings.TrimSuffix(term, "es"))
		case strings.HasSuffix(term, "s") && !strings.HasSuffix(term, "ss") && len(term) > 3:
			add(strings.TrimSuffix(term, "s"))
		}
	}
	return out
}

// overlapLargest is |a ∩ b| / max(|a|, |b|).
func overlapLargest(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for token := range small {
		if _, ok := large[token]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(large))
}

// queryCoverage is the share of query tokens present in text.
func queryCoverage(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

// normalizedPhrase lowercases and collapses s into space separated tokens, padded
// with spaces so phrase lookups match whole words.
func normalizedPhrase(s string) string {
	return " " + strings.Join(splitAlphaNumLower(s), " ") + " "
}

func containsPhrase(normalized string, phrases []string) bool {
	for _, phrase := range phrases {
		p := strings.TrimSpace(phrase)
		if p == "" {
			continue
		}
		if strings.Contains(normalized, normalizedPhrase(p)) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
