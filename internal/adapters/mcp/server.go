// Package mcpadapter exposes the grounded answering pipeline as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

const (
	ServerName    = "grounded-docqa"
	ServerVersion = "0.1.0"

	ToolAskDocuments = "ask_documents"
	ToolCircuitState = "circuit_state"
)

const askDocumentsSchema = `{
  "type": "object",
  "properties": {
    "question":   {"type": "string", "minLength": 1, "maxLength": 4000, "description": "Natural-language question"},
    "scope":      {"type": "string", "enum": ["org", "folder", "doc"], "description": "Search scope kind"},
    "target_ids": {"type": "array", "items": {"type": "string"}, "description": "Folder or document ids for folder and doc scopes"},
    "org_id":     {"type": "string", "description": "Organization the caller belongs to"},
    "user_id":    {"type": "string", "description": "Caller id used for the membership check"},
    "strict":     {"type": "boolean", "description": "Cap confidence and tag the answer unsupported_content when a sentence lacks support"}
  },
  "required": ["question", "scope", "org_id", "user_id"]
}`

const circuitStateSchema = `{"type": "object", "properties": {}}`

type askArguments struct {
	Question  string   `json:"question"`
	Scope     string   `json:"scope"`
	TargetIDs []string `json:"target_ids"`
	OrgID     string   `json:"org_id"`
	UserID    string   `json:"user_id"`
	Strict    bool     `json:"strict"`
}

func (a askArguments) request() (domain.AskRequest, error) {
	kind := domain.ScopeKind(strings.TrimSpace(a.Scope))
	if !kind.Valid() {
		return domain.AskRequest{}, fmt.Errorf("unknown scope %q", a.Scope)
	}
	if strings.TrimSpace(a.Question) == "" {
		return domain.AskRequest{}, errors.New("question is required")
	}
	return domain.AskRequest{
		Question: a.Question,
		Scope: domain.Scope{
			Kind:      kind,
			OrgID:     a.OrgID,
			TargetIDs: a.TargetIDs,
		},
		UserID: a.UserID,
		Strict: a.Strict,
	}, nil
}

type Server struct {
	answerer ports.QuestionAnswerer
	circuit  ports.CircuitReader
	mcp      *server.MCPServer
}

func NewServer(answerer ports.QuestionAnswerer, circuit ports.CircuitReader) *Server {
	s := &Server{
		answerer: answerer,
		circuit:  circuit,
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
			server.WithInstructions("Answers questions about organization documents with cited, verified evidence"),
		),
	}

	s.mcp.AddTool(
		mcp.NewToolWithRawSchema(ToolAskDocuments, "Answer a question grounded in the documents of the given scope, with citations", json.RawMessage(askDocumentsSchema)),
		s.handleAsk,
	)
	s.mcp.AddTool(
		mcp.NewToolWithRawSchema(ToolCircuitState, "Report the state of the language model provider circuit breaker", json.RawMessage(circuitStateSchema)),
		s.handleCircuitState,
	)
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// HTTPHandler serves the tools over streamable HTTP without sessions.
func (s *Server) HTTPHandler(endpoint string) http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(endpoint),
		server.WithStateLess(true),
	)
}

// ServeStdio blocks until ctx is cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args askArguments
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	req, err := args.request()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	answer, err := s.answerer.Ask(ctx, req)
	if err != nil {
		slog.Warn("mcp_ask_failed", "error", err)
		return mcp.NewToolResultError(toolErrorMessage(err)), nil
	}
	return jsonResult(answer)
}

func (s *Server) handleCircuitState(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.circuit == nil {
		return jsonResult(domain.CircuitState{State: domain.BreakerClosed})
	}
	return jsonResult(s.circuit.CircuitState())
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolErrorMessage keeps internal failure details out of tool output.
func toolErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid input: " + err.Error()
	case domain.IsKind(err, domain.ErrUnauthorized):
		return "unauthorized"
	case domain.IsKind(err, domain.ErrAccessViolation):
		return "access denied"
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return "document not found"
	case domain.IsKind(err, domain.ErrTimeout):
		return "timed out"
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrProviderUnavailable):
		return "temporarily unavailable, retry later"
	default:
		return "internal error"
	}
}
