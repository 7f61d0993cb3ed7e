package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
	prompts    *prompt.Builder
}

// New builds a client whose calls all run through the shared executor. A nil
// executor runs calls once, without breaker or retry.
func New(baseURL, genModel, embedModel string, executor *resilience.Executor, prompts *prompt.Builder) *Client {
	if prompts == nil {
		prompts = prompt.NewBuilder(0)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
		prompts:    prompts,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, domain.WrapError(domain.ErrProviderUnavailable, "ollama embed", errors.New("empty embedding result"))
	}
	return response.Embeddings[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateAnswer(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return g.client.generate(ctx, map[string]any{
		"model":  g.client.genModel,
		"prompt": g.client.prompts.Answer(req),
		"stream": false,
	})
}

// GenerateJSON passes the schema as Ollama's structured output format.
func (g *Generator) GenerateJSON(ctx context.Context, text string, schema map[string]any) (string, error) {
	var format any = "json"
	if len(schema) > 0 {
		format = schema
	}
	return g.client.generate(ctx, map[string]any{
		"model":  g.client.genModel,
		"prompt": g.client.prompts.Classification(text, schema),
		"stream": false,
		"format": format,
	})
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.call(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) call(ctx context.Context, path string, payload any, out any, operation string) error {
	if c.executor == nil {
		return wrapProviderError("ollama "+operation, c.postJSON(ctx, path, payload, out, operation))
	}
	err := c.executor.Execute(ctx, "ollama."+operation, func(ctx context.Context) error {
		return c.postJSON(ctx, path, payload, out, operation)
	}, classifyOllamaError)
	return wrapProviderError("ollama "+operation, err)
}
