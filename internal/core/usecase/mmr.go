package usecase

import "github.com/kirillkom/grounded-docqa/internal/core/domain"

type scoredChunk struct {
	chunk     domain.Chunk
	relevance float64
	tokens    map[string]struct{}
}

func newScoredChunk(chunk domain.Chunk, relevance float64, simTokens int) scoredChunk {
	tokens := splitAlphaNumLower(chunk.Text)
	if simTokens > 0 && len(tokens) > simTokens {
		tokens = tokens[:simTokens]
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return scoredChunk{chunk: chunk, relevance: relevance, tokens: set}
}

// selectMMR greedily picks up to k items maximizing
// lambda*relevance - (1-lambda)*max similarity to the items already picked.
func selectMMR(items []scoredChunk, k int, lambda float64) []scoredChunk {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	remaining := make([]scoredChunk, len(items))
	copy(remaining, items)
	selected := make([]scoredChunk, 0, min(k, len(items)))

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := overlapLargest(cand.tokens, sel.tokens); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*cand.relevance - (1-lambda)*maxSim
			if bestIdx < 0 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}
