package openaicompat

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/resilience"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// Client talks to any OpenAI-compatible endpoint. Retries are left to the shared
// executor, so the SDK's own retry loop is disabled.
type Client struct {
	sdk        openai.Client
	chatModel  string
	embedModel string
	executor   *resilience.Executor
	prompts    *prompt.Builder
}

type Config struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

func New(cfg Config, executor *resilience.Executor, prompts *prompt.Builder) *Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if prompts == nil {
		prompts = prompt.NewBuilder(0)
	}
	return &Client{
		sdk:        openai.NewClient(opts...),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		executor:   executor,
		prompts:    prompts,
	}
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := c.run(ctx, "openai.embed", func(ctx context.Context) error {
		resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(c.embedModel),
			Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return errors.New("empty embedding result")
		}
		vector = make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			vector[i] = float32(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func (c *Client) GenerateAnswer(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return c.complete(ctx, "openai.generate", openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(c.prompts.Answer(req)),
		},
	})
}

func (c *Client) GenerateJSON(ctx context.Context, text string, schema map[string]any) (string, error) {
	return c.complete(ctx, "openai.classify", openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You reply with a single JSON object and nothing else."),
			openai.UserMessage(c.prompts.Classification(text, schema)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
}

func (c *Client) complete(ctx context.Context, operation string, params openai.ChatCompletionNewParams) (string, error) {
	var out string
	err := c.run(ctx, operation, func(ctx context.Context) error {
		resp, err := c.sdk.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("completion has no choices")
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	return out, err
}

func (c *Client) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if c.executor == nil {
		err = fn(ctx)
	} else {
		err = c.executor.Execute(ctx, operation, fn, classifyOpenAIError)
	}
	return resilience.ProviderError(operation, err)
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(apiErr.StatusCode)
	}
	return resilience.ClassifyTransport(err)
}
