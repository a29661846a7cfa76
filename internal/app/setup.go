package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	coreapi "github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/pharci/lexica/db"
	"github.com/pharci/lexica/internal/api"
	"github.com/pharci/lexica/internal/config"
	"github.com/pharci/lexica/internal/conversation"
	"github.com/pharci/lexica/internal/history"
	"github.com/pharci/lexica/internal/index"
	"github.com/pharci/lexica/internal/ingest"
	"github.com/pharci/lexica/internal/log"
	"github.com/pharci/lexica/internal/retrieval"
)

// Setup creates and initializes the application. On error, everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.New(log.Config{Level: cfg.Level(), JSON: cfg.LogJSON})
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	idx, pool, err := provideIndex(ctx, cfg, embedder, logger)
	if err != nil {
		return nil, err
	}
	a.Index = idx
	a.DBPool = pool

	store, err := history.New(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("creating history store: %w", err)
	}
	a.History = store

	a.Pipeline = ingest.New(idx, store, ingest.Config{
		WindowSize: cfg.ChunkSize,
		Overlap:    cfg.ChunkOverlap,
		IDStrategy: cfg.VectorIDStrategy,
	}, logger)

	a.Retriever = retrieval.New(idx, retrieval.Config{
		TopK:              cfg.TopK,
		DistanceThreshold: cfg.DistanceThreshold,
	}, logger)

	orch, err := conversation.New(conversation.Config{
		Genkit:      g,
		Retriever:   a.Retriever,
		Transcripts: store,
		Logger:      logger,
		ModelName:   cfg.FullModelName(),
		Temperature: cfg.Temperature,
		RateLimiter: provideRateLimiter(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	srv, err := api.NewServer(api.ServerConfig{
		Logger:                 logger,
		Orchestrator:           orch,
		Pipeline:               a.Pipeline,
		Index:                  idx,
		History:                store,
		CollectionName:         cfg.CollectionName,
		CORSOrigins:            cfg.CORSOrigins,
		RetractVectorsOnDelete: cfg.RetractVectorsOnDelete,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = srv

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini (default), ollama and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers embedders differently: ollama keys them by server
// address, openai auto-registers on Init, gemini resolves by model name.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, coreapi.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideIndex creates the configured vector index backend. The returned
// pool is non-nil only for the postgres backend.
func provideIndex(ctx context.Context, cfg *config.Config, embedder ai.Embedder, logger log.Logger) (index.Index, *pgxpool.Pool, error) {
	switch cfg.IndexBackend {
	case config.IndexPostgres:
		pool, err := provideDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return index.NewPostgres(pool, embedder, logger), pool, nil

	default: // chromem
		idx, err := index.NewChromem(cfg.IndexPath, cfg.CollectionName, embedder, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening chromem index: %w", err)
		}
		return idx, nil, nil
	}
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideRateLimiter builds the generation limiter from config. Burst is
// three seconds of refill so short bursts of questions are not rejected.
func provideRateLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.GenerateRPS <= 0 {
		return nil
	}
	burst := int(cfg.GenerateRPS * 3)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.GenerateRPS), burst)
}
