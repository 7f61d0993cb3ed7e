package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

type candidateAcc struct {
	score      float64
	maxScore   float64
	sources    map[domain.RetrievalSource]float64
	provenance []domain.RetrievalSource
}

func (a *candidateAcc) add(source domain.RetrievalSource, contribution, raw float64) {
	if a.sources == nil {
		a.sources = make(map[domain.RetrievalSource]float64, 3)
	}
	if prev, ok := a.sources[source]; !ok {
		a.provenance = append(a.provenance, source)
		a.sources[source] = contribution
	} else if contribution > prev {
		a.sources[source] = contribution
	}
	a.score = max(a.score, contribution)
	a.maxScore = max(a.maxScore, raw)
}

// combineCandidates merges the three fuser outputs into one ranked candidate list.
// A document's score is the best weighted contribution it received and only
// documents whose best raw similarity passes the quality gate survive.
func combineCandidates(
	metadata []domain.FieldMatch,
	content []domain.ContentMatch,
	keyword []domain.KeywordHit,
	limit int,
	opts RetrievalOptions,
) []domain.Candidate {
	if limit <= 0 {
		limit = opts.DefaultLimit
	}

	acc := make(map[string]*candidateAcc)
	get := func(id string) *candidateAcc {
		c, ok := acc[id]
		if !ok {
			c = &candidateAcc{}
			acc[id] = c
		}
		return c
	}

	for _, m := range metadata {
		contribution := m.Similarity * m.FieldWeight
		if contribution < opts.MetadataMinContribution {
			continue
		}
		get(m.DocumentID).add(domain.SourceMetadata, contribution, m.Similarity)
	}
	for _, m := range content {
		contribution := m.Similarity * opts.ContentWeight
		if contribution < opts.ContentMinContribution {
			continue
		}
		get(m.DocumentID).add(domain.SourceContent, contribution, m.Similarity)
	}
	for _, m := range keyword {
		if m.Similarity < opts.KeywordMinSimilarity {
			continue
		}
		get(m.DocumentID).add(domain.SourceKeyword, m.Similarity*opts.KeywordWeight, m.Similarity)
	}

	out := make([]domain.Candidate, 0, len(acc))
	for id, c := range acc {
		if c.maxScore < opts.QualityGate {
			continue
		}
		out = append(out, domain.Candidate{
			DocumentID:   id,
			SourceScores: c.sources,
			FusedScore:   c.score,
			MaxScore:     c.maxScore,
			Provenance:   c.provenance,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].MaxScore != out[j].MaxScore {
			return out[i].MaxScore > out[j].MaxScore
		}
		return out[i].DocumentID < out[j].DocumentID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// HybridSearch fans out to the three fusers, joins them and combines the result.
// An empty result means no confident match.
func (r *Retriever) HybridSearch(ctx context.Context, req RetrievalRequest, keywordOnly bool) []domain.Candidate {
	limit := req.Limit
	if limit <= 0 {
		limit = r.opts.DefaultLimit
	}
	key := candidateCacheKey(req, limit, keywordOnly)
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok {
			return cached
		}
	}

	var (
		wg       sync.WaitGroup
		metadata []domain.FieldMatch
		content  []domain.ContentMatch
		keyword  []domain.KeywordHit
	)
	embed := r.embedOnce(ctx, req.Text)
	// Each fuser over-fetches; the combined list is cut to limit.
	req.Limit = max(limit, r.opts.FuserLimit)

	wg.Add(1)
	go func() {
		defer wg.Done()
		keyword, _ = runBounded(ctx, r.strategyTimeout, func(ctx context.Context) ([]domain.KeywordHit, error) {
			return r.SearchKeyword(ctx, req), nil
		})
	}()
	if !keywordOnly {
		wg.Add(2)
		go func() {
			defer wg.Done()
			metadata, _ = runBounded(ctx, r.strategyTimeout, func(ctx context.Context) ([]domain.FieldMatch, error) {
				return r.searchMetadata(ctx, req, embed), nil
			})
		}()
		go func() {
			defer wg.Done()
			content, _ = runBounded(ctx, r.strategyTimeout, func(ctx context.Context) ([]domain.ContentMatch, error) {
				return r.searchContent(ctx, req, embed), nil
			})
		}()
	}
	wg.Wait()

	candidates := combineCandidates(metadata, content, keyword, limit, r.opts)
	if r.cache != nil && len(candidates) > 0 {
		r.cache.Set(ctx, key, candidates)
	}
	return candidates
}

func candidateCacheKey(req RetrievalRequest, limit int, keywordOnly bool) string {
	h := sha1.New()
	for _, id := range req.Allow.IDs() {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	scope := hex.EncodeToString(h.Sum(nil))[:16]
	query := strings.Join(splitAlphaNumLower(req.Text), " ")
	return fmt.Sprintf("fusion:%s:%s:%s:%d:%.2f:%t", req.OrgID, scope, query, limit, req.Threshold, keywordOnly)
}
