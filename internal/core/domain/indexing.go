package domain

// SourceDocument is a document read from a corpus before it is indexed.
// Pages holds one entry per page when the source marks page breaks, otherwise
// a single entry and Paged is false.
type SourceDocument struct {
	Key      string
	Document Document
	Pages    []string
	Paged    bool
}

type IndexedChunk struct {
	Index  int
	Page   *int
	Text   string
	Vector []float32
}

type FieldEmbedding struct {
	Field  string
	Value  string
	Vector []float32
}

type IndexReport struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Folders   int      `json:"folders"`
	Failed    []string `json:"failed,omitempty"`
}

// Metadata field names shared by metadata embeddings and keyword search.
const (
	FieldTitle       = "title"
	FieldSubject     = "subject"
	FieldSender      = "sender"
	FieldReceiver    = "receiver"
	FieldCategory    = "category"
	FieldDescription = "description"
)
