package usecase

import "time"

// RetrievalOptions tunes the fusers and the combiner.
type RetrievalOptions struct {
	MetadataThreshold  float64
	MetadataPostFilter float64
	ContentThreshold   float64
	FuserLimit         int

	MetadataFieldWeights    map[string]float64
	MetadataMinContribution float64
	ContentWeight           float64
	ContentMinContribution  float64
	KeywordWeight           float64
	KeywordMinSimilarity    float64
	QualityGate             float64
	DefaultLimit            int

	// KeywordFieldScores are checked in KeywordFieldOrder; the first matching field wins.
	KeywordFieldOrder  []string
	KeywordFieldScores map[string]float64
	KeywordFloor       float64
}

// ContextOptions tunes windowing and diversity selection.
type ContextOptions struct {
	AnchorLimit        int
	WindowRadius       int
	ChunksPerPage      int
	SignatureLength    int
	MaxChunks          int
	Lambda             float64
	SimilarityTokens   int
	WindowDecay        float64
	KeywordRelevance   float64
	KeywordAnchorLimit int
	KeywordPhrases     []string
	StructuredTypes    []string
}

type VerifierOptions struct {
	OverlapThreshold float64
	// StrictConfidenceCap bounds the confidence of a strict answer that has
	// unsupported sentences.
	StrictConfidenceCap float64
}

type CoordinatorOptions struct {
	OverallTimeout  time.Duration
	StrategyTimeout time.Duration
	MaxSecondary    int
}

type ExecutorOptions struct {
	ListLimit          int
	FolderShortlist    int
	QACandidates       int
	CandidateLimit     int
	SnippetLength      int
	ExtractiveSentence int
}

type RouterOptions struct {
	MetadataPhrases    []string
	LinkedPhrases      []string
	ClarifyMinDocs     int
	FailOpenConfidence float64
}

type PipelineOptions struct {
	Retrieval   RetrievalOptions
	Context     ContextOptions
	Verifier    VerifierOptions
	Coordinator CoordinatorOptions
	Executor    ExecutorOptions
	Router      RouterOptions
}

func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Retrieval: RetrievalOptions{
			MetadataThreshold:  0.4,
			MetadataPostFilter: 0.5,
			ContentThreshold:   0.4,
			FuserLimit:         30,
			MetadataFieldWeights: map[string]float64{
				"title":       1.0,
				"subject":     0.95,
				"sender":      0.9,
				"receiver":    0.9,
				"category":    0.8,
				"doc_type":    0.8,
				"description": 0.7,
			},
			MetadataMinContribution: 0.2,
			ContentWeight:           0.9,
			ContentMinContribution:  0.2,
			KeywordWeight:           0.7,
			KeywordMinSimilarity:    0.5,
			QualityGate:             0.5,
			DefaultLimit:            20,
			KeywordFieldOrder:       []string{"title", "subject", "sender", "receiver", "category", "description"},
			KeywordFieldScores: map[string]float64{
				"title":       1.0,
				"subject":     0.9,
				"sender":      0.8,
				"receiver":    0.8,
				"category":    0.7,
				"description": 0.5,
			},
			KeywordFloor: 0.2,
		},
		Context: ContextOptions{
			AnchorLimit:        8,
			WindowRadius:       1,
			ChunksPerPage:      4,
			SignatureLength:    200,
			MaxChunks:          8,
			Lambda:             0.7,
			SimilarityTokens:   60,
			WindowDecay:        0.85,
			KeywordRelevance:   0.45,
			KeywordAnchorLimit: 4,
			KeywordPhrases:     []string{"total", "subtotal", "grand total", "amount due", "balance", "summary", "conclusion", "invoice number", "due date"},
			StructuredTypes:    []string{"invoice", "receipt", "statement", "spreadsheet", "table", "report", "form", "csv", "xlsx"},
		},
		Verifier: VerifierOptions{
			OverlapThreshold:    0.15,
			StrictConfidenceCap: 0.3,
		},
		Coordinator: CoordinatorOptions{
			OverallTimeout:  15 * time.Second,
			StrategyTimeout: 8 * time.Second,
			MaxSecondary:    2,
		},
		Executor: ExecutorOptions{
			ListLimit:          10,
			FolderShortlist:    3,
			QACandidates:       3,
			CandidateLimit:     20,
			SnippetLength:      300,
			ExtractiveSentence: 3,
		},
		Router: RouterOptions{
			ClarifyMinDocs:     10,
			FailOpenConfidence: 0.6,
		},
	}
}

// Normalize fills zero values with defaults.
func (o PipelineOptions) Normalize() PipelineOptions {
	def := DefaultPipelineOptions()
	out := o

	r := &out.Retrieval
	setFloat(&r.MetadataThreshold, def.Retrieval.MetadataThreshold)
	setFloat(&r.MetadataPostFilter, def.Retrieval.MetadataPostFilter)
	setFloat(&r.ContentThreshold, def.Retrieval.ContentThreshold)
	setInt(&r.FuserLimit, def.Retrieval.FuserLimit)
	if len(r.MetadataFieldWeights) == 0 {
		r.MetadataFieldWeights = def.Retrieval.MetadataFieldWeights
	}
	setFloat(&r.MetadataMinContribution, def.Retrieval.MetadataMinContribution)
	setFloat(&r.ContentWeight, def.Retrieval.ContentWeight)
	setFloat(&r.ContentMinContribution, def.Retrieval.ContentMinContribution)
	setFloat(&r.KeywordWeight, def.Retrieval.KeywordWeight)
	setFloat(&r.KeywordMinSimilarity, def.Retrieval.KeywordMinSimilarity)
	setFloat(&r.QualityGate, def.Retrieval.QualityGate)
	setInt(&r.DefaultLimit, def.Retrieval.DefaultLimit)
	if len(r.KeywordFieldOrder) == 0 {
		r.KeywordFieldOrder = def.Retrieval.KeywordFieldOrder
	}
	if len(r.KeywordFieldScores) == 0 {
		r.KeywordFieldScores = def.Retrieval.KeywordFieldScores
	}
	setFloat(&r.KeywordFloor, def.Retrieval.KeywordFloor)

	c := &out.Context
	setInt(&c.AnchorLimit, def.Context.AnchorLimit)
	if c.WindowRadius < 0 {
		c.WindowRadius = 0
	}
	setInt(&c.ChunksPerPage, def.Context.ChunksPerPage)
	setInt(&c.SignatureLength, def.Context.SignatureLength)
	setInt(&c.MaxChunks, def.Context.MaxChunks)
	if c.Lambda <= 0 || c.Lambda > 1 {
		c.Lambda = def.Context.Lambda
	}
	setInt(&c.SimilarityTokens, def.Context.SimilarityTokens)
	setFloat(&c.WindowDecay, def.Context.WindowDecay)
	setFloat(&c.KeywordRelevance, def.Context.KeywordRelevance)
	setInt(&c.KeywordAnchorLimit, def.Context.KeywordAnchorLimit)
	if len(c.KeywordPhrases) == 0 {
		c.KeywordPhrases = def.Context.KeywordPhrases
	}
	if len(c.StructuredTypes) == 0 {
		c.StructuredTypes = def.Context.StructuredTypes
	}

	setFloat(&out.Verifier.OverlapThreshold, def.Verifier.OverlapThreshold)
	setFloat(&out.Verifier.StrictConfidenceCap, def.Verifier.StrictConfidenceCap)

	co := &out.Coordinator
	if co.OverallTimeout <= 0 {
		co.OverallTimeout = def.Coordinator.OverallTimeout
	}
	if co.StrategyTimeout <= 0 || co.StrategyTimeout > co.OverallTimeout {
		co.StrategyTimeout = min(def.Coordinator.StrategyTimeout, co.OverallTimeout)
	}
	if co.MaxSecondary < 0 {
		co.MaxSecondary = 0
	}

	e := &out.Executor
	setInt(&e.ListLimit, def.Executor.ListLimit)
	setInt(&e.FolderShortlist, def.Executor.FolderShortlist)
	setInt(&e.QACandidates, def.Executor.QACandidates)
	setInt(&e.CandidateLimit, def.Executor.CandidateLimit)
	setInt(&e.SnippetLength, def.Executor.SnippetLength)
	setInt(&e.ExtractiveSentence, def.Executor.ExtractiveSentence)

	setInt(&out.Router.ClarifyMinDocs, def.Router.ClarifyMinDocs)
	setFloat(&out.Router.FailOpenConfidence, def.Router.FailOpenConfidence)
	return out
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
