package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

type options struct {
	question     string
	scope        string
	targets      string
	orgID        string
	userID       string
	conversation string
	apiURL       string
	strict       bool
	jsonOut      bool
	timeout      time.Duration
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.question, "q", "", "question to ask")
	flag.StringVar(&opts.scope, "scope", "org", "scope kind: org, folder or doc")
	flag.StringVar(&opts.targets, "target", "", "comma-separated folder or document ids")
	flag.StringVar(&opts.orgID, "org", os.Getenv("DOCQA_ORG_ID"), "organization id")
	flag.StringVar(&opts.userID, "user", os.Getenv("DOCQA_USER_ID"), "user id")
	flag.StringVar(&opts.conversation, "conversation", "", "conversation id for follow-up questions")
	flag.StringVar(&opts.apiURL, "api", envOr("DOCQA_API_URL", "http://localhost:8080"), "API base URL")
	flag.BoolVar(&opts.strict, "strict", false, "lower confidence and flag answers with unsupported sentences")
	flag.BoolVar(&opts.jsonOut, "json", false, "print the raw answer JSON")
	flag.DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	flag.Parse()

	if strings.TrimSpace(opts.question) == "" {
		fmt.Fprintln(os.Stderr, "usage: ask -q \"question\" [-scope doc -target id] [-org id -user id] [-api url]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	answer, raw, err := ask(ctx, http.DefaultClient, opts.apiURL, buildRequest(opts))
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if opts.jsonOut {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			os.Stdout.Write(raw)
			return
		}
		pretty.WriteTo(os.Stdout)
		fmt.Println()
		return
	}
	render(os.Stdout, answer)
}

func buildRequest(opts options) domain.AskRequest {
	return domain.AskRequest{
		Question: opts.question,
		Scope: domain.Scope{
			Kind:      domain.ScopeKind(opts.scope),
			OrgID:     opts.orgID,
			TargetIDs: splitList(opts.targets),
		},
		UserID:         opts.userID,
		ConversationID: opts.conversation,
		Strict:         opts.strict,
	}
}

type apiError struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func ask(ctx context.Context, client *http.Client, baseURL string, req domain.AskRequest) (*domain.Answer, []byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/ask", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return nil, raw, fmt.Errorf("api returned %d: %s (request %s)", resp.StatusCode, apiErr.Error, apiErr.RequestID)
		}
		return nil, raw, fmt.Errorf("api returned %d", resp.StatusCode)
	}

	var answer domain.Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, raw, fmt.Errorf("decode answer: %w", err)
	}
	if answer.Text == "" && !answer.RequiresClarification {
		return &answer, raw, errors.New("api returned an empty answer")
	}
	return &answer, raw, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
