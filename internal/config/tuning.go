package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/grounded-docqa/internal/core/usecase"
)

// Tuning is the optional YAML override of pipeline constants. Absent keys keep
// the built-in defaults.
type Tuning struct {
	Retrieval struct {
		MetadataThreshold       *float64           `yaml:"metadata_threshold"`
		MetadataPostFilter      *float64           `yaml:"metadata_post_filter"`
		ContentThreshold        *float64           `yaml:"content_threshold"`
		FuserLimit              *int               `yaml:"fuser_limit"`
		MetadataFieldWeights    map[string]float64 `yaml:"metadata_field_weights"`
		MetadataMinContribution *float64           `yaml:"metadata_min_contribution"`
		ContentWeight           *float64           `yaml:"content_weight"`
		ContentMinContribution  *float64           `yaml:"content_min_contribution"`
		KeywordWeight           *float64           `yaml:"keyword_weight"`
		KeywordMinSimilarity    *float64           `yaml:"keyword_min_similarity"`
		QualityGate             *float64           `yaml:"quality_gate"`
		DefaultLimit            *int               `yaml:"default_limit"`
		KeywordFieldOrder       []string           `yaml:"keyword_field_order"`
		KeywordFieldScores      map[string]float64 `yaml:"keyword_field_scores"`
		KeywordFloor            *float64           `yaml:"keyword_floor"`
	} `yaml:"retrieval"`

	Context struct {
		AnchorLimit        *int     `yaml:"anchor_limit"`
		WindowRadius       *int     `yaml:"window_radius"`
		ChunksPerPage      *int     `yaml:"chunks_per_page"`
		SignatureLength    *int     `yaml:"signature_length"`
		MaxChunks          *int     `yaml:"max_chunks"`
		Lambda             *float64 `yaml:"lambda"`
		SimilarityTokens   *int     `yaml:"similarity_tokens"`
		WindowDecay        *float64 `yaml:"window_decay"`
		KeywordRelevance   *float64 `yaml:"keyword_relevance"`
		KeywordAnchorLimit *int     `yaml:"keyword_anchor_limit"`
		KeywordPhrases     []string `yaml:"keyword_phrases"`
		StructuredTypes    []string `yaml:"structured_types"`
	} `yaml:"context"`

	Verifier struct {
		OverlapThreshold    *float64 `yaml:"overlap_threshold"`
		StrictConfidenceCap *float64 `yaml:"strict_confidence_cap"`
	} `yaml:"verifier"`

	Timeouts struct {
		Overall  *time.Duration `yaml:"overall"`
		Strategy *time.Duration `yaml:"strategy"`
	} `yaml:"timeouts"`

	Coordinator struct {
		MaxSecondary *int `yaml:"max_secondary"`
	} `yaml:"coordinator"`

	Executor struct {
		ListLimit          *int `yaml:"list_limit"`
		FolderShortlist    *int `yaml:"folder_shortlist"`
		QACandidates       *int `yaml:"qa_candidates"`
		CandidateLimit     *int `yaml:"candidate_limit"`
		SnippetLength      *int `yaml:"snippet_length"`
		ExtractiveSentence *int `yaml:"extractive_sentences"`
	} `yaml:"executor"`

	Router struct {
		MetadataPhrases    []string `yaml:"metadata_phrases"`
		LinkedPhrases      []string `yaml:"linked_phrases"`
		ClarifyMinDocs     *int     `yaml:"clarify_min_docs"`
		FailOpenConfidence *float64 `yaml:"fail_open_confidence"`
	} `yaml:"router"`
}

// LoadPipelineOptions returns the defaults, overridden by the tuning file when
// path is set.
func LoadPipelineOptions(path string) (usecase.PipelineOptions, error) {
	opts := usecase.DefaultPipelineOptions()
	if path == "" {
		return opts, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read tuning file: %w", err)
	}
	var t Tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return opts, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	t.Apply(&opts)
	return opts.Normalize(), nil
}

func (t Tuning) Apply(o *usecase.PipelineOptions) {
	r := &o.Retrieval
	setF(&r.MetadataThreshold, t.Retrieval.MetadataThreshold)
	setF(&r.MetadataPostFilter, t.Retrieval.MetadataPostFilter)
	setF(&r.ContentThreshold, t.Retrieval.ContentThreshold)
	setI(&r.FuserLimit, t.Retrieval.FuserLimit)
	r.MetadataFieldWeights = mergeWeights(r.MetadataFieldWeights, t.Retrieval.MetadataFieldWeights)
	setF(&r.MetadataMinContribution, t.Retrieval.MetadataMinContribution)
	setF(&r.ContentWeight, t.Retrieval.ContentWeight)
	setF(&r.ContentMinContribution, t.Retrieval.ContentMinContribution)
	setF(&r.KeywordWeight, t.Retrieval.KeywordWeight)
	setF(&r.KeywordMinSimilarity, t.Retrieval.KeywordMinSimilarity)
	setF(&r.QualityGate, t.Retrieval.QualityGate)
	setI(&r.DefaultLimit, t.Retrieval.DefaultLimit)
	if len(t.Retrieval.KeywordFieldOrder) > 0 {
		r.KeywordFieldOrder = t.Retrieval.KeywordFieldOrder
	}
	r.KeywordFieldScores = mergeWeights(r.KeywordFieldScores, t.Retrieval.KeywordFieldScores)
	setF(&r.KeywordFloor, t.Retrieval.KeywordFloor)

	c := &o.Context
	setI(&c.AnchorLimit, t.Context.AnchorLimit)
	setI(&c.WindowRadius, t.Context.WindowRadius)
	setI(&c.ChunksPerPage, t.Context.ChunksPerPage)
	setI(&c.SignatureLength, t.Context.SignatureLength)
	setI(&c.MaxChunks, t.Context.MaxChunks)
	setF(&c.Lambda, t.Context.Lambda)
	setI(&c.SimilarityTokens, t.Context.SimilarityTokens)
	setF(&c.WindowDecay, t.Context.WindowDecay)
	setF(&c.KeywordRelevance, t.Context.KeywordRelevance)
	setI(&c.KeywordAnchorLimit, t.Context.KeywordAnchorLimit)
	if len(t.Context.KeywordPhrases) > 0 {
		c.KeywordPhrases = t.Context.KeywordPhrases
	}
	if len(t.Context.StructuredTypes) > 0 {
		c.StructuredTypes = t.Context.StructuredTypes
	}

	setF(&o.Verifier.OverlapThreshold, t.Verifier.OverlapThreshold)
	setF(&o.Verifier.StrictConfidenceCap, t.Verifier.StrictConfidenceCap)

	if t.Timeouts.Overall != nil {
		o.Coordinator.OverallTimeout = *t.Timeouts.Overall
	}
	if t.Timeouts.Strategy != nil {
		o.Coordinator.StrategyTimeout = *t.Timeouts.Strategy
	}
	setI(&o.Coordinator.MaxSecondary, t.Coordinator.MaxSecondary)

	e := &o.Executor
	setI(&e.ListLimit, t.Executor.ListLimit)
	setI(&e.FolderShortlist, t.Executor.FolderShortlist)
	setI(&e.QACandidates, t.Executor.QACandidates)
	setI(&e.CandidateLimit, t.Executor.CandidateLimit)
	setI(&e.SnippetLength, t.Executor.SnippetLength)
	setI(&e.ExtractiveSentence, t.Executor.ExtractiveSentence)

	// Router vocabulary is additive.
	o.Router.MetadataPhrases = append(o.Router.MetadataPhrases, t.Router.MetadataPhrases...)
	o.Router.LinkedPhrases = append(o.Router.LinkedPhrases, t.Router.LinkedPhrases...)
	setI(&o.Router.ClarifyMinDocs, t.Router.ClarifyMinDocs)
	setF(&o.Router.FailOpenConfidence, t.Router.FailOpenConfidence)
}

func setF(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setI(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func mergeWeights(base, override map[string]float64) map[string]float64 {
	if len(override) == 0 {
		return base
	}
	out := make(map[string]float64, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
