package domain

import "time"

type ReasonCode string

const (
	ReasonNone                ReasonCode = ""
	ReasonProviderUnavailable ReasonCode = "provider_unavailable"
	ReasonCircuitOpen         ReasonCode = "circuit_open"
	ReasonNoConfidentMatch    ReasonCode = "no_confident_match"
	ReasonAmbiguousScope      ReasonCode = "ambiguous_scope"
	ReasonTimeout             ReasonCode = "timeout"
	ReasonRouterFailOpen      ReasonCode = "router_fail_open"
	ReasonUnsupportedContent  ReasonCode = "unsupported_content"
)

const MaxSnippetLength = 500

type Citation struct {
	DocumentID  string `json:"document_id"`
	Page        *int   `json:"page,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type UnsupportedSentence struct {
	Index       int     `json:"index"`
	Text        string  `json:"text"`
	BestOverlap float64 `json:"best_overlap"`
}

// CoverageReport is advisory; it never changes the answer text.
type CoverageReport struct {
	Checked     bool                  `json:"checked"`
	Sentences   int                   `json:"sentences"`
	Unsupported []UnsupportedSentence `json:"unsupported,omitempty"`
}

type Answer struct {
	Text                  string            `json:"text"`
	Citations             []Citation        `json:"citations"`
	Task                  TaskType          `json:"task"`
	Confidence            float64           `json:"confidence"`
	Degraded              bool              `json:"degraded"`
	Partial               bool              `json:"partial,omitempty"`
	Reason                ReasonCode        `json:"reason,omitempty"`
	RequiresClarification bool              `json:"requires_clarification,omitempty"`
	ClarifyingQuestion    string            `json:"clarifying_question,omitempty"`
	SuggestedFilters      []SuggestedFilter `json:"suggested_filters,omitempty"`
	Trace                 []string          `json:"trace"`
	Coverage              *CoverageReport   `json:"coverage,omitempty"`
	ListedDocIDs          []string          `json:"listed_doc_ids,omitempty"`

	// Evidence holds the snippets the text was produced from; the verifier checks
	// coverage against it. Not serialized.
	Evidence []string `json:"-"`
}

// CitedDocumentIDs returns the distinct cited document ids in citation order.
func (a *Answer) CitedDocumentIDs() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.Citations))
	seen := make(map[string]struct{}, len(a.Citations))
	for _, c := range a.Citations {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		out = append(out, c.DocumentID)
	}
	return out
}

// AnswerTrace is the telemetry record emitted once per answered question.
type AnswerTrace struct {
	TraceID    string        `json:"trace_id"`
	OrgID      string        `json:"org_id"`
	Scope      ScopeKind     `json:"scope"`
	Task       TaskType      `json:"task"`
	Degraded   bool          `json:"degraded"`
	Partial    bool          `json:"partial"`
	Reason     ReasonCode    `json:"reason,omitempty"`
	Strategies []string      `json:"strategies"`
	Citations  int           `json:"citations"`
	Latency    time.Duration `json:"latency"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AskRequest is the inbound request before scope resolution.
type AskRequest struct {
	Question       string             `json:"question"`
	Scope          Scope              `json:"scope"`
	UserID         string             `json:"user_id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Memory         ConversationMemory `json:"memory"`
	Strict         bool               `json:"strict,omitempty"`
}

// Identity is the caller as seen by the scope resolver.
type Identity struct {
	UserID string
	OrgID  string
}
