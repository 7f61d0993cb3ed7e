package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

func TestBuildRequestSplitsTargets(t *testing.T) {
	req := buildRequest(options{question: "q", scope: "doc", targets: " d1, ,d2 ", orgID: "org", userID: "u1"})
	if req.Scope.Kind != domain.ScopeDoc || len(req.Scope.TargetIDs) != 2 || req.Scope.TargetIDs[1] != "d2" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.UserID != "u1" || req.Scope.OrgID != "org" {
		t.Fatalf("identity not carried: %+v", req)
	}
}

func TestAskPostsJSONAndDecodesAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ask" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %q", r.URL.Path, r.Header.Get("Content-Type"))
		}
		var req domain.AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(domain.Answer{Text: "Answer for " + req.Question, Task: domain.TaskQAAboutDoc})
	}))
	defer srv.Close()

	answer, _, err := ask(context.Background(), srv.Client(), srv.URL+"/", domain.AskRequest{Question: "terms"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.Text != "Answer for terms" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
}

func TestAskSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized","request_id":"r-1"}`))
	}))
	defer srv.Close()

	_, _, err := ask(context.Background(), srv.Client(), srv.URL, domain.AskRequest{Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "r-1") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestRenderAnswer(t *testing.T) {
	color.NoColor = true
	page := 3
	var buf bytes.Buffer
	render(&buf, &domain.Answer{
		Text:       "Payment is due in 30 days.",
		Task:       domain.TaskQAAboutDoc,
		Confidence: 0.8,
		Degraded:   true,
		Reason:     domain.ReasonCircuitOpen,
		Citations:  []domain.Citation{{DocumentID: "d1", DisplayName: "Contract", Page: &page, Snippet: "30 days"}},
	})

	out := buf.String()
	for _, want := range []string{"[qa_about_doc] confidence 0.80", "(degraded: circuit_open)", "Payment is due in 30 days.", "[1] Contract p.3", `"30 days"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderClarification(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	render(&buf, &domain.Answer{
		RequiresClarification: true,
		ClarifyingQuestion:    "Which contract do you mean?",
		SuggestedFilters:      []domain.SuggestedFilter{{Field: "sender", Hint: "narrow by sender"}},
	})
	if !strings.Contains(buf.String(), "Which contract do you mean?") || !strings.Contains(buf.String(), "sender (narrow by sender)") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}
