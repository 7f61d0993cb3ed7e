package domain

// PromptSource is one numbered evidence block handed to the generator.
type PromptSource struct {
	Label      string
	DocumentID string
	Page       *int
	Text       string
}

// GenerationRequest is a grounded answering request for the generation provider.
type GenerationRequest struct {
	Question     string
	Task         TaskType
	Instructions string
	Sources      []PromptSource
}
