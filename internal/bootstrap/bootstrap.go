package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/grounded-docqa/internal/config"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
	"github.com/kirillkom/grounded-docqa/internal/core/usecase"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/cache"
	neo4jgraph "github.com/kirillkom/grounded-docqa/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/llm/prompt"
	natsbus "github.com/kirillkom/grounded-docqa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/resilience"
	"github.com/kirillkom/grounded-docqa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/grounded-docqa/internal/observability/metrics"
)

type App struct {
	Config config.Config

	DB  *sql.DB
	Bus *natsbus.Bus

	// Provider is the single breaker shared by every LLM call in the process.
	Provider *resilience.Executor
	Pipeline *metrics.PipelineMetrics

	// Local answers in this process. Answerer is what outer surfaces should call:
	// Local, or a NATS forwarder when ASK_TRANSPORT=nats.
	Local     *usecase.AskService
	Answerer  ports.QuestionAnswerer
	Documents ports.DocumentReader

	embedder   ports.Embedder
	chunkIndex *qdrant.ChunkIndex
	closers    []func()
}

type Option func(*options)

type options struct {
	service     string
	registerer  prometheus.Registerer
	requireBus  bool
	localAnswer bool
}

// WithService labels metrics produced by the pipeline.
func WithService(name string) Option {
	return func(o *options) { o.service = name }
}

// WithRegisterer selects where pipeline metrics are registered.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) { o.registerer = registerer }
}

// RequireBus connects to NATS even when neither traces nor remote asking need it.
func RequireBus() Option {
	return func(o *options) { o.requireBus = true }
}

// LocalAnswering ignores ASK_TRANSPORT; workers must answer themselves.
func LocalAnswering() Option {
	return func(o *options) { o.localAnswer = true }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{service: "docqa"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}

	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	pipelineOpts, err := config.LoadPipelineOptions(cfg.TuningFile)
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.DB = db
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDimensions); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	app.Pipeline = metrics.NewPipelineMetrics(o.service, o.registerer)
	app.Provider = resilience.NewExecutor(providerConfig(cfg), app.Pipeline.CircuitListener())

	embedder, generator, err := newProvider(cfg, app.Provider)
	if err != nil {
		return nil, err
	}
	app.embedder = embedder

	store := postgres.NewDocumentRepository(db)
	retrieverOpts := []usecase.RetrieverOption{usecase.WithRetrievalObserver(app.Pipeline)}

	if strings.EqualFold(cfg.VectorBackend, "qdrant") {
		index := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
		if err := index.EnsureCollection(ctx, cfg.EmbeddingDimensions); err != nil {
			return nil, fmt.Errorf("init qdrant: %w", err)
		}
		if err := index.EnsurePayloadIndexes(ctx); err != nil {
			return nil, fmt.Errorf("init qdrant: %w", err)
		}
		app.chunkIndex = index
		retrieverOpts = append(retrieverOpts, usecase.WithContentSearcher(index))
	}

	candidateCache, err := app.newCandidateCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if candidateCache != nil {
		retrieverOpts = append(retrieverOpts, usecase.WithCandidateCache(candidateCache))
	}

	links, err := app.newLinkGraph(ctx, cfg, db)
	if err != nil {
		return nil, err
	}

	needBus := o.requireBus || cfg.TracePublishEnabled || (!o.localAnswer && strings.EqualFold(cfg.AskTransport, "nats"))
	if needBus {
		bus, err := natsbus.Connect(cfg.NATSURL, natsbus.Options{
			Name:               "docqa-" + o.service,
			QuestionSubject:    cfg.NATSQuestionSubject,
			TraceSubject:       cfg.NATSTraceSubject,
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			return nil, fmt.Errorf("init nats: %w", err)
		}
		app.Bus = bus
		app.onClose(bus.Close)
	}

	var traces ports.AnswerTracePublisher
	if cfg.TracePublishEnabled && app.Bus != nil {
		traces = app.Bus
	}

	retriever := usecase.NewRetriever(embedder, store, pipelineOpts, retrieverOpts...)
	assembler := usecase.NewContextAssembler(store, pipelineOpts)
	executors := usecase.NewTaskExecutors(store, links, retriever, assembler, generator, pipelineOpts)
	degradation := usecase.NewDegradationController(
		app.Provider,
		usecase.NewPolicyRouter(generator, pipelineOpts),
		usecase.NewHeuristicRouter(pipelineOpts),
	)
	verifier := usecase.NewAnswerVerifier(pipelineOpts, app.Pipeline)
	coordinator := usecase.NewCoordinator(degradation, executors, verifier, app.Pipeline, pipelineOpts)

	app.Local = usecase.NewAskService(
		postgres.NewScopeResolver(db),
		coordinator,
		postgres.NewMemoryRepository(db),
		traces,
	)
	app.Answerer = app.Local
	if !o.localAnswer && strings.EqualFold(cfg.AskTransport, "nats") {
		app.Answerer = natsbus.NewRemoteAnswerer(app.Bus)
	}
	app.Documents = usecase.NewDocumentService(store)

	slog.Info("bootstrap_ready",
		"llm_provider", cfg.LLMProvider,
		"vector_backend", cfg.VectorBackend,
		"link_graph_backend", cfg.LinkGraphBackend,
		"cache_backend", cfg.CacheBackend,
		"ask_transport", cfg.AskTransport,
		"nats", app.Bus != nil,
	)
	return app, nil
}

// NewIndexService loads corpora into the same store, provider and chunk index
// the pipeline reads from.
func (a *App) NewIndexService(extractor ports.SourceExtractor, chunker ports.Chunker) *usecase.IndexService {
	var mirror ports.ChunkIndexWriter
	if a.chunkIndex != nil {
		mirror = a.chunkIndex
	}
	return usecase.NewIndexService(extractor, chunker, a.embedder, postgres.NewIndexWriter(a.DB), mirror)
}

// Ready reports whether the process can serve questions.
func (a *App) Ready(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.Bus != nil && !a.Bus.Connected() {
		return errors.New("nats: not connected")
	}
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func providerConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ProviderRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ProviderRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ProviderRetryMaxBackoff
	out.BreakerOpenTimeout = cfg.ProviderBreakerOpenTimeout
	out.RateLimitRPS = cfg.ProviderRateLimitRPS
	out.RateLimitBurst = cfg.ProviderRateLimitBurst
	return out
}

func newProvider(cfg config.Config, executor *resilience.Executor) (ports.Embedder, ports.AnswerGenerator, error) {
	prompts := prompt.NewBuilder(cfg.PromptContextTokens)
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor, prompts)
		return ollama.NewEmbedder(client), ollama.NewGenerator(client), nil
	case "openai":
		client := openaicompat.New(openaicompat.Config{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			ChatModel:  cfg.OpenAIChatModel,
			EmbedModel: cfg.OpenAIEmbedModel,
		}, executor, prompts)
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func (a *App) newCandidateCache(ctx context.Context, cfg config.Config) (ports.CandidateCache, error) {
	switch strings.ToLower(cfg.CacheBackend) {
	case "", "memory":
		return cache.NewMemory(cfg.CacheTTL), nil
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.onClose(func() { _ = client.Close() })
		return cache.NewRedis(client, cfg.CacheTTL), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
}

func (a *App) newLinkGraph(ctx context.Context, cfg config.Config, db *sql.DB) (ports.LinkGraph, error) {
	switch strings.ToLower(cfg.LinkGraphBackend) {
	case "", "postgres":
		return postgres.NewLinkRepository(db), nil
	case "neo4j":
		graph, err := neo4jgraph.New(ctx, neo4jgraph.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return nil, fmt.Errorf("init neo4j: %w", err)
		}
		a.onClose(func() { _ = graph.Close(context.Background()) })
		return graph, nil
	default:
		return nil, fmt.Errorf("unknown LINK_GRAPH_BACKEND %q", cfg.LinkGraphBackend)
	}
}
