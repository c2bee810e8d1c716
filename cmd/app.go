package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/averos/grounded/internal/chat"
	"github.com/averos/grounded/internal/config"
	"github.com/averos/grounded/internal/corpus"
	"github.com/averos/grounded/internal/database"
	"github.com/averos/grounded/internal/extract"
	"github.com/averos/grounded/internal/index"
	"github.com/averos/grounded/internal/ingest"
	"github.com/averos/grounded/internal/log"
	"github.com/averos/grounded/internal/observability"
	"github.com/averos/grounded/internal/provider"
	"github.com/averos/grounded/internal/provider/googleai"
	"github.com/averos/grounded/internal/provider/openai"
	"github.com/averos/grounded/internal/resolver"
	"github.com/averos/grounded/internal/session"
	"github.com/averos/grounded/internal/splitter"
)

// app holds the fully wired engine behind every subcommand.
type app struct {
	cfg    *config.Config
	logger log.Logger

	pool     *pgxpool.Pool // nil for the memory backend
	docs     corpus.Store
	idx      index.Index
	sessions session.Store

	pipeline *ingest.Pipeline
	resolver *resolver.Resolver
	orch     *chat.Orchestrator

	shutdownTracing func(context.Context) error
}

// buildApp loads configuration, connects storage and constructs the engine.
// Migration runs before the pool opens when the postgres backend is selected.
func buildApp(ctx context.Context) (*app, error) {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := log.New(log.Config{Level: parseLogLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	a := &app{
		cfg:             cfg,
		logger:          logger,
		shutdownTracing: func(context.Context) error { return nil },
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.Setup(ctx, logger, observability.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.shutdownTracing = shutdown
	}

	if err := a.connectStorage(ctx); err != nil {
		return nil, err
	}

	em, gen, err := buildProvider(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	sp, err := splitter.New(cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.pipeline, err = ingest.New(extract.New(logger), sp, em, a.idx, a.docs, logger, ingest.Options{})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.resolver, err = resolver.New(em, gen, a.idx, resolver.Config{
		TopK:          cfg.TopK,
		MinSimilarity: cfg.MinSimilarity,
		ContextBudget: cfg.ContextBudget,
		DedupWindow:   cfg.DedupWindow,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	chatOpts := []chat.Option{chat.WithHistoryBudget(cfg.HistoryBudget)}
	if cfg.RejectWhenBusy {
		chatOpts = append(chatOpts, chat.WithRejectWhenBusy())
	}
	a.orch, err = chat.New(a.sessions, a.resolver, logger, chatOpts...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	return a, nil
}

func (a *app) connectStorage(ctx context.Context) error {
	if a.cfg.Backend == config.BackendMemory {
		idx, err := index.NewMemoryIndex(a.cfg.Dimension)
		if err != nil {
			return err
		}
		a.docs = corpus.NewMemoryStore()
		a.idx = idx
		a.sessions = session.NewMemoryStore()
		return nil
	}

	if err := database.Migrate(a.logger, a.cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	pool, err := database.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.pool = pool

	docs, err := corpus.NewPostgresStore(pool)
	if err != nil {
		return err
	}
	idx, err := index.NewPostgresIndex(pool, a.cfg.Dimension)
	if err != nil {
		return err
	}
	sessions, err := session.NewPostgresStore(pool)
	if err != nil {
		return err
	}
	a.docs = docs
	a.idx = idx
	a.sessions = sessions
	return nil
}

// buildProvider constructs the configured AI client wrapped in the retry
// policy. One client serves both capabilities.
func buildProvider(ctx context.Context, cfg *config.Config) (provider.Embedder, provider.Generator, error) {
	var (
		em  provider.Embedder
		gen provider.Generator
	)

	switch cfg.Provider {
	case config.ProviderOpenAI:
		client, err := openai.New(openai.Config{
			APIKey:          cfg.OpenAIAPIKey,
			EmbeddingModel:  cfg.EmbeddingModel,
			GenerationModel: cfg.GenerationModel,
			Dimension:       cfg.Dimension,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating openai client: %w", err)
		}
		em, gen = client, client
	default:
		client, err := googleai.New(ctx, googleai.Config{
			APIKey:          cfg.GeminiAPIKey,
			EmbeddingModel:  cfg.EmbeddingModel,
			GenerationModel: cfg.GenerationModel,
			Dimension:       cfg.Dimension,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating gemini client: %w", err)
		}
		em, gen = client, client
	}

	logger := slog.Default()
	return provider.NewResilientEmbedder(em, provider.RetryConfig{}, nil, logger),
		provider.NewResilientGenerator(gen, provider.RetryConfig{}, nil, logger),
		nil
}

// Close releases storage and flushes telemetry. Safe on a partially built app.
func (a *app) Close(ctx context.Context) {
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.Warn("flushing traces", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
