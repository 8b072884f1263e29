// Package app wires all Sweetmill subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the trade database,
// builds the capability registry and the conversation orchestrator, and
// starts nothing; Run serves the diagnostics endpoint and the interactive
// chat loop; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweetmill/sweetmill/internal/agent"
	"github.com/sweetmill/sweetmill/internal/config"
	"github.com/sweetmill/sweetmill/internal/health"
	"github.com/sweetmill/sweetmill/internal/observe"
	"github.com/sweetmill/sweetmill/internal/resilience"
	"github.com/sweetmill/sweetmill/internal/store"
	"github.com/sweetmill/sweetmill/pkg/provider/embeddings"
	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// NamedLLM pairs a model backend with the provider name it was created from,
// for failover logging and metrics labels.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the provider instances created by main via the config
// registry. A nil Embeddings disables semantic catalog search.
type Providers struct {
	LLM          NamedLLM
	LLMFallbacks []NamedLLM
	Embeddings   embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	pool         *pgxpool.Pool
	store        store.Store
	semantic     *store.SemanticIndex
	dispatcher   *agent.Dispatcher
	orchestrator *agent.Orchestrator
	metrics      *observe.Metrics
	httpServer   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a data store instead of connecting to PostgreSQL.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics set instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger injects a logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initAgent(); err != nil {
		return nil, fmt.Errorf("app: init agent: %w", err)
	}
	a.initHTTP()

	return a, nil
}

// initStore connects the trade database unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(a.cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	if a.cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = int32(a.cfg.Database.MaxConns)
	}
	// Vector columns scan into pgvector.Vector values on every connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}

	st := store.NewPostgresStore(pool)
	if a.cfg.Database.Migrate {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
	}

	a.pool = pool
	a.store = st
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initAgent builds the capability registry, the dispatcher and the
// conversation orchestrator, chaining fallback backends behind the primary.
func (a *App) initAgent() error {
	if a.providers == nil || a.providers.LLM.Provider == nil {
		return fmt.Errorf("an LLM provider is required")
	}

	var regOpts []agent.RegistryOption
	if a.providers.Embeddings != nil && a.pool != nil {
		a.semantic = store.NewSemanticIndex(a.pool, a.providers.Embeddings)
		regOpts = append(regOpts, agent.WithSemanticSearch(a.semantic))
		a.log.Info("semantic catalog search enabled",
			"model", a.providers.Embeddings.ModelID())
	}

	registry := agent.NewRegistry(a.store, regOpts...)
	a.dispatcher = agent.NewDispatcher(registry, a.metrics, a.log)

	model := a.providers.LLM.Provider
	if len(a.providers.LLMFallbacks) > 0 {
		failover := resilience.NewFailover(
			a.providers.LLM.Name, a.providers.LLM.Provider, resilience.BreakerConfig{})
		for _, fb := range a.providers.LLMFallbacks {
			failover.Add(fb.Name, fb.Provider)
			a.log.Info("registered fallback model backend", "provider", fb.Name)
		}
		model = failover
	}

	chatOpts := []agent.Option{
		agent.WithProviderName(a.providers.LLM.Name),
		agent.WithLogger(a.log),
		agent.WithMetrics(a.metrics),
	}
	chat := a.cfg.Chat
	if chat.MaxRounds > 0 {
		chatOpts = append(chatOpts, agent.WithMaxRounds(chat.MaxRounds))
	}
	if chat.Temperature > 0 {
		chatOpts = append(chatOpts, agent.WithTemperature(chat.Temperature))
	}
	if chat.MaxTokens > 0 {
		chatOpts = append(chatOpts, agent.WithMaxTokens(chat.MaxTokens))
	}
	if chat.SystemPrompt != "" {
		prompt := chat.SystemPrompt
		chatOpts = append(chatOpts, agent.WithSystemPrompt(func() string {
			return agent.SystemPrompt(prompt, time.Now())
		}))
	}

	a.orchestrator = agent.NewOrchestrator(model, a.dispatcher, chatOpts...)
	return nil
}

// initHTTP builds the diagnostics server (metrics + health probes). Disabled
// when no listen address is configured.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	var checkers []health.Checker
	if a.pool != nil {
		checkers = append(checkers, health.DatabaseChecker(a.pool))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Dispatcher exposes the tool dispatcher for the MCP serving mode.
func (a *App) Dispatcher() *agent.Dispatcher { return a.dispatcher }

// Orchestrator exposes the conversation loop.
func (a *App) Orchestrator() *agent.Orchestrator { return a.orchestrator }

// SemanticIndex returns the catalog embedding index, or nil when embeddings
// are not configured.
func (a *App) SemanticIndex() *store.SemanticIndex { return a.semantic }

// StartHTTP starts the diagnostics server in the background. No-op when the
// server is disabled. Server errors other than graceful close are logged.
func (a *App) StartHTTP() {
	if a.httpServer == nil {
		return
	}
	go func() {
		a.log.Info("diagnostics server listening", "addr", a.httpServer.Addr)

		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			a.log.Error("diagnostics server failed", "error", err)
		}
	}()
}

// Shutdown tears down all subsystems in reverse-init order, respecting the
// context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.log.Warn("diagnostics server shutdown", "error", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
