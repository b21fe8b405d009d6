// Package app wires the application together: database pool and
// migrations, Genkit with the Gemini plugin, the stores, and the
// companion pipeline. Both the CLI and the API server build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marginalia-app/marginalia/db"
	"github.com/marginalia-app/marginalia/internal/book"
	"github.com/marginalia-app/marginalia/internal/companion"
	"github.com/marginalia-app/marginalia/internal/config"
	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/knowledge"
	"github.com/marginalia-app/marginalia/internal/llm"
	"github.com/marginalia-app/marginalia/internal/log"
	"github.com/marginalia-app/marginalia/internal/profile"
	"github.com/marginalia-app/marginalia/internal/retrieval"
)

// App holds the wired application components.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	Pool      *pgxpool.Pool
	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	Sessions  *conversation.Store
	Profiles  *profile.Store
	Chunks    *book.Chunks
	Companion *companion.Companion
}

// Setup builds the full application. Migrations run before the pool is
// opened so the schema is always current.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		pool.Close()
		return nil, fmt.Errorf("initializing genkit")
	}
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)

	sessions, err := conversation.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating conversation store: %w", err)
	}
	profiles, err := profile.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating profile store: %w", err)
	}
	chunks, err := book.NewChunks(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating chunk accessor: %w", err)
	}
	searcher, err := knowledge.NewStore(pool, embedder, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	retriever, err := retrieval.NewRetriever(chunks, searcher, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	completer, err := llm.NewService(g, nil, llm.DefaultRetryConfig(), logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating completion service: %w", err)
	}

	comp, err := companion.New(sessions, profiles, retriever, completer, companion.Config{
		Models: map[conversation.Tier]string{
			conversation.TierFree: cfg.ModelFree,
			conversation.TierPlus: cfg.ModelPlus,
			conversation.TierPro:  cfg.ModelPro,
		},
		HistoryWindow:     cfg.HistoryWindow,
		CompletionTimeout: time.Duration(cfg.CompletionTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating companion: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Pool:      pool,
		Genkit:    g,
		Embedder:  embedder,
		Sessions:  sessions,
		Profiles:  profiles,
		Chunks:    chunks,
		Companion: comp,
	}, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// NewPool opens a tuned connection pool and verifies connectivity.
// CLI commands that only touch the database use it directly, without
// the model stack.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

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
