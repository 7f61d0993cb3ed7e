package domain

import "sort"

type ScopeKind string

const (
	ScopeOrg    ScopeKind = "org"
	ScopeFolder ScopeKind = "folder"
	ScopeDoc    ScopeKind = "doc"
)

func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeOrg, ScopeFolder, ScopeDoc:
		return true
	default:
		return false
	}
}

type Scope struct {
	Kind      ScopeKind `json:"kind"`
	OrgID     string    `json:"org_id"`
	TargetIDs []string  `json:"target_ids,omitempty"`
}

// MultiDocument reports whether the scope spans more than a single document.
func (s Scope) MultiDocument() bool {
	return s.Kind != ScopeDoc
}

// ConversationMemory is the short-term state carried between turns.
type ConversationMemory struct {
	FocusDocIDs      []string          `json:"focus_doc_ids,omitempty"`
	LastCitedDocIDs  []string          `json:"last_cited_doc_ids,omitempty"`
	LastListedDocIDs []string          `json:"last_listed_doc_ids,omitempty"`
	ActiveFilters    map[string]string `json:"active_filters,omitempty"`
}

type Query struct {
	Text   string             `json:"text"`
	Scope  Scope              `json:"scope"`
	Memory ConversationMemory `json:"memory"`
	Strict bool               `json:"strict,omitempty"`
}

// AllowSet is the access boundary of one request. The zero value allows nothing.
type AllowSet struct {
	ids map[string]struct{}
}

func NewAllowSet(ids ...string) AllowSet {
	set := AllowSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		set.ids[id] = struct{}{}
	}
	return set
}

func (a AllowSet) Contains(id string) bool {
	_, ok := a.ids[id]
	return ok
}

func (a AllowSet) Len() int {
	return len(a.ids)
}

// IDs returns the members in a stable order.
func (a AllowSet) IDs() []string {
	out := make([]string, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Filter keeps only the ids that are members, preserving input order and dropping repeats.
func (a AllowSet) Filter(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !a.Contains(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Intersect narrows the set to ids that are also present in ids.
func (a AllowSet) Intersect(ids []string) AllowSet {
	return NewAllowSet(a.Filter(ids)...)
}
