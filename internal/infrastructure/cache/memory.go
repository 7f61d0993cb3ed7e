package cache

import (
	"context"
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// Memory is a process-local candidate cache with a fixed TTL.
type Memory struct {
	cache *gocache.Cache
}

var _ ports.CandidateCache = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Memory{cache: gocache.New(ttl, 2*ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]domain.Candidate, bool) {
	v, found := m.cache.Get(key)
	if !found {
		return nil, false
	}
	candidates, ok := v.([]domain.Candidate)
	if !ok {
		return nil, false
	}
	return cloneCandidates(candidates), true
}

func (m *Memory) Set(_ context.Context, key string, candidates []domain.Candidate) {
	m.cache.Set(key, cloneCandidates(candidates), gocache.DefaultExpiration)
}

// cloneCandidates copies the slice and the per-candidate maps so callers can
// re-rank results without touching cached entries.
func cloneCandidates(in []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(in))
	for i, c := range in {
		c.Provenance = slices.Clone(c.Provenance)
		if c.SourceScores != nil {
			scores := make(map[domain.RetrievalSource]float64, len(c.SourceScores))
			for k, v := range c.SourceScores {
				scores[k] = v
			}
			c.SourceScores = scores
		}
		out[i] = c
	}
	return out
}
