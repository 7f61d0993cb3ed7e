package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/grounded-docqa/internal/config"
	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
	"github.com/kirillkom/grounded-docqa/internal/observability/metrics"
)

const maxAskBodyBytes = 64 << 10

type Router struct {
	cfg       config.Config
	answerer  ports.QuestionAnswerer
	documents ports.DocumentReader
	circuit   ports.CircuitReader

	metrics   *metrics.HTTPServerMetrics
	mcp       http.Handler
	readiness func(ctx context.Context) error
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

// WithMCPHandler mounts the streamable MCP endpoint at /mcp.
func WithMCPHandler(h http.Handler) RouterOption {
	return func(rt *Router) { rt.mcp = h }
}

// WithReadiness sets the dependency probe behind /readyz.
func WithReadiness(check func(ctx context.Context) error) RouterOption {
	return func(rt *Router) { rt.readiness = check }
}

func NewRouter(
	cfg config.Config,
	answerer ports.QuestionAnswerer,
	documents ports.DocumentReader,
	circuit ports.CircuitReader,
	options ...RouterOption,
) *Router {
	rt := &Router{
		cfg:       cfg,
		answerer:  answerer,
		documents: documents,
		circuit:   circuit,
	}
	for _, opt := range options {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /readyz", rt.readyz)
	mux.HandleFunc("POST /v1/ask", rt.ask)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/circuit", rt.circuitState)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	if rt.mcp != nil {
		mux.Handle("/mcp", rt.mcp)
	}

	var handler http.Handler = mux
	if rt.cfg.OpenAPIValidation {
		validator, err := newOpenAPIValidator()
		if err != nil {
			// Embedded document; only a broken build ends up here.
			panic(err)
		}
		handler = validator.middleware(handler)
	}
	var onReject rejectRecorder
	if rt.metrics != nil {
		onReject = func(cause string) { rt.metrics.RecordRejected("api", cause) }
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ready"}
	if rt.circuit != nil {
		payload["circuit"] = rt.circuit.CircuitState()
	}
	if rt.readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.readiness(ctx); err != nil {
			slog.Warn("readiness_check_failed", "error", err)
			payload["status"] = "unavailable"
			payload["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	var req domain.AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	ctx := r.Context()
	if rt.cfg.APIRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.APIRequestTimeout)
		defer cancel()
	}

	answer, err := rt.answerer.Ask(ctx, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid document id")
		return
	}
	var orgID string
	if err := runtime.BindQueryParameter("form", true, true, "org_id", r.URL.Query(), &orgID); err != nil {
		writeError(w, r, http.StatusBadRequest, "org_id is required")
		return
	}

	doc, err := rt.documents.GetDocument(r.Context(), orgID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) circuitState(w http.ResponseWriter, _ *http.Request) {
	if rt.circuit == nil {
		writeJSON(w, http.StatusOK, domain.CircuitState{State: domain.BreakerClosed})
		return
	}
	writeJSON(w, http.StatusOK, rt.circuit.CircuitState())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
