package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

type fakeResolver struct {
	allow domain.AllowSet
	err   error
	calls int
}

func (r *fakeResolver) AllowedDocumentIDs(_ context.Context, _ domain.Identity, _ domain.Scope) (domain.AllowSet, error) {
	r.calls++
	return r.allow, r.err
}

type fakeMemory struct {
	mu      sync.Mutex
	stored  domain.ConversationMemory
	saved   *domain.ConversationMemory
	loadErr error
}

func (m *fakeMemory) Load(context.Context, string, string) (domain.ConversationMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored, m.loadErr
}

func (m *fakeMemory) Save(_ context.Context, _, _ string, mem domain.ConversationMemory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = &mem
	return nil
}

type fakeTraces struct {
	mu     sync.Mutex
	traces []domain.AnswerTrace
	err    error
}

func (p *fakeTraces) PublishAnswerTrace(_ context.Context, trace domain.AnswerTrace) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.traces = append(p.traces, trace)
	return p.err
}

func metadataAskRequest() domain.AskRequest {
	return domain.AskRequest{
		Question:       "Who is the sender?",
		Scope:          domain.Scope{Kind: domain.ScopeDoc, OrgID: "org", TargetIDs: []string{"d1"}},
		UserID:         "user-1",
		ConversationID: "conv-1",
	}
}

func TestAskValidatesRequest(t *testing.T) {
	f := newPipelineFixture(contractStore())
	resolver := &fakeResolver{allow: domain.NewAllowSet("d1")}
	svc := NewAskService(resolver, f.coordinator(), nil, nil)

	cases := map[string]domain.AskRequest{
		"empty question": {Question: "  ", Scope: domain.Scope{Kind: domain.ScopeOrg, OrgID: "org"}},
		"too long":       {Question: strings.Repeat("a", maxQuestionLength+1), Scope: domain.Scope{Kind: domain.ScopeOrg, OrgID: "org"}},
		"bad scope":      {Question: "q", Scope: domain.Scope{Kind: "team", OrgID: "org"}},
		"missing org":    {Question: "q", Scope: domain.Scope{Kind: domain.ScopeOrg}},
		"missing target": {Question: "q", Scope: domain.Scope{Kind: domain.ScopeFolder, OrgID: "org"}},
	}
	for name, req := range cases {
		_, err := svc.Ask(context.Background(), req)
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
	if resolver.calls != 0 {
		t.Fatalf("invalid requests must not resolve scope")
	}
}

func TestAskPropagatesAuthorizationErrors(t *testing.T) {
	f := newPipelineFixture(contractStore())
	svc := NewAskService(&fakeResolver{err: domain.WrapError(domain.ErrUnauthorized, "resolve", errors.New("foreign org"))}, f.coordinator(), nil, nil)

	_, err := svc.Ask(context.Background(), metadataAskRequest())
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	svc = NewAskService(&fakeResolver{err: errors.New("connection reset")}, f.coordinator(), nil, nil)
	_, err = svc.Ask(context.Background(), metadataAskRequest())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary, got %v", err)
	}
}

func TestAskStoresMemoryAndPublishesTrace(t *testing.T) {
	f := newPipelineFixture(contractStore())
	memory := &fakeMemory{stored: domain.ConversationMemory{ActiveFilters: map[string]string{"doc_type": "contract"}}}
	traces := &fakeTraces{}
	svc := NewAskService(&fakeResolver{allow: domain.NewAllowSet("d1")}, f.coordinator(), memory, traces)

	answer, err := svc.Ask(context.Background(), metadataAskRequest())
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.Task != domain.TaskMetadataQA || answer.Text != "Sender: ACME GmbH" {
		t.Fatalf("unexpected answer %+v", answer)
	}

	if memory.saved == nil {
		t.Fatalf("expected conversation memory to be saved")
	}
	if len(memory.saved.FocusDocIDs) != 1 || memory.saved.FocusDocIDs[0] != "d1" {
		t.Fatalf("expected focus on d1, got %+v", memory.saved)
	}
	if memory.saved.ActiveFilters["doc_type"] != "contract" {
		t.Fatalf("stored filters must survive, got %+v", memory.saved.ActiveFilters)
	}

	if len(traces.traces) != 1 {
		t.Fatalf("expected one trace, got %d", len(traces.traces))
	}
	trace := traces.traces[0]
	if trace.TraceID == "" || trace.OrgID != "org" || trace.Task != domain.TaskMetadataQA || trace.Citations != 1 {
		t.Fatalf("unexpected trace %+v", trace)
	}
}

func TestAskSurvivesMemoryAndTraceFailures(t *testing.T) {
	f := newPipelineFixture(contractStore())
	memory := &fakeMemory{loadErr: errors.New("db down")}
	traces := &fakeTraces{err: errors.New("nats down")}
	svc := NewAskService(&fakeResolver{allow: domain.NewAllowSet("d1")}, f.coordinator(), memory, traces)

	answer, err := svc.Ask(context.Background(), metadataAskRequest())
	if err != nil || answer == nil {
		t.Fatalf("expected an answer despite side failures, got %v", err)
	}
}

func TestMergeMemoryPrefersRequestState(t *testing.T) {
	stored := domain.ConversationMemory{FocusDocIDs: []string{"old"}, LastListedDocIDs: []string{"x"}}
	sent := domain.ConversationMemory{FocusDocIDs: []string{"new"}}
	got := mergeMemory(stored, sent)
	if got.FocusDocIDs[0] != "new" || got.LastListedDocIDs[0] != "x" {
		t.Fatalf("unexpected merge result %+v", got)
	}
}

func TestDocumentServiceChecksOrganization(t *testing.T) {
	svc := NewDocumentService(contractStore())

	doc, err := svc.GetDocument(context.Background(), "org", "d1")
	if err != nil || doc.Title != "Service contract" {
		t.Fatalf("expected d1, got %+v, %v", doc, err)
	}
	if _, err := svc.GetDocument(context.Background(), "other", "d1"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found for foreign org, got %v", err)
	}
	if _, err := svc.GetDocument(context.Background(), "org", " "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
