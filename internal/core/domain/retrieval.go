package domain

type RetrievalSource string

const (
	SourceMetadata RetrievalSource = "metadata"
	SourceContent  RetrievalSource = "content"
	SourceKeyword  RetrievalSource = "keyword"
)

// FieldMatch is one metadata-field embedding hit.
type FieldMatch struct {
	DocumentID  string  `json:"document_id"`
	Field       string  `json:"field"`
	Value       string  `json:"value"`
	Similarity  float64 `json:"similarity"`
	FieldWeight float64 `json:"field_weight"`
}

// ContentMatch is one content-chunk embedding hit.
type ContentMatch struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Page       *int    `json:"page,omitempty"`
	Similarity float64 `json:"similarity"`
}

// KeywordHit is one lexical metadata match with its heuristic score.
type KeywordHit struct {
	DocumentID string  `json:"document_id"`
	Field      string  `json:"field"`
	Similarity float64 `json:"similarity"`
}

// Candidate is a document considered relevant after fusion.
type Candidate struct {
	DocumentID   string                      `json:"document_id"`
	SourceScores map[RetrievalSource]float64 `json:"source_scores"`
	FusedScore   float64                     `json:"fused_score"`
	MaxScore     float64                     `json:"max_score"`
	Provenance   []RetrievalSource           `json:"provenance"`
}

type ChunkOrigin string

const (
	OriginAnchor  ChunkOrigin = "anchor"
	OriginWindow  ChunkOrigin = "window"
	OriginKeyword ChunkOrigin = "keyword"
)

type Chunk struct {
	DocumentID string      `json:"document_id"`
	Page       *int        `json:"page,omitempty"`
	Text       string      `json:"text"`
	Similarity *float64    `json:"similarity,omitempty"`
	Origin     ChunkOrigin `json:"origin,omitempty"`
}

type SelectionMethod string

const (
	SelectionAnchor          SelectionMethod = "anchor"
	SelectionWindow          SelectionMethod = "window"
	SelectionKeywordFallback SelectionMethod = "keyword-fallback"
)

// ContextSet is the bounded evidence handed to an executor.
type ContextSet struct {
	Chunks []Chunk         `json:"chunks"`
	Method SelectionMethod `json:"method"`
}

func (c ContextSet) Empty() bool {
	return len(c.Chunks) == 0
}
