// Package server provides the public entry point for initializing the
// verdin admission service: it wires the grid engine, the caches, the
// durable task store, the orchestrator and the deferred resolver into one
// ready-to-serve handler.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/verdin-ai/verdin/internal/api"
	"github.com/verdin-ai/verdin/internal/api/handlers"
	"github.com/verdin-ai/verdin/internal/cache"
	"github.com/verdin-ai/verdin/internal/carbon"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/internal/grid"
	"github.com/verdin-ai/verdin/internal/llm"
	"github.com/verdin-ai/verdin/internal/orchestrator"
	"github.com/verdin-ai/verdin/internal/resolver"
	"github.com/verdin-ai/verdin/internal/retention"
	"github.com/verdin-ai/verdin/internal/store"
	"github.com/verdin-ai/verdin/internal/telemetry"
)

// promptCacheTTL bounds how long cached results are replayed.
const promptCacheTTL = 24 * time.Hour

// Server holds the initialized verdin service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the durable task and receipt store.
	Store store.Store

	// Resolver is the deferred-task background loop; the caller runs it
	// via StartResolver.
	Resolver *resolver.Resolver

	// Janitor is the retention sweep; the caller runs it via StartJanitor.
	Janitor *retention.Janitor

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry and close connections.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Durable store: PostgreSQL in production, in-memory when unreachable.
	var dataStore store.Store
	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Warn().Err(err).Msg("PostgreSQL unavailable, using in-memory store")
		dataStore = store.NewMemoryStore()
	} else {
		dataStore = pg
	}

	// Shared cache service; degrades to no-op when Redis is down.
	kv := cache.NewKV(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	gridEngine := grid.NewEngine(cfg.Grid, kv,
		grid.NewElectricityMaps(cfg.Grid.ElectricityMapsToken),
		grid.NewWattTime(cfg.Grid.WattTimeToken, cfg.Grid.WattTimeUsername, cfg.Grid.WattTimePassword),
	)
	promptCache := cache.NewPromptCache(kv, cache.NewJaccardSimilarity(0.8), promptCacheTTL)
	accountant := carbon.NewAccountant(cfg.Carbon)

	generator, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}

	orch := orchestrator.New(dataStore, gridEngine, promptCache, accountant, generator, cfg.Carbon)
	res := resolver.New(dataStore, orch, cfg.Resolver.PollInterval)
	janitor := retention.NewJanitor(dataStore, cfg.Retention)

	h := handlers.New(dataStore, orch, res, gridEngine)
	router := api.NewRouter(cfg, h)

	log.Info().Msg("Admission service initialized")

	return &Server{
		Handler:  router,
		Store:    dataStore,
		Resolver: res,
		Janitor:  janitor,
		Port:     cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			if err := kv.Close(); err != nil {
				log.Warn().Err(err).Msg("Cache close failed")
			}
			return telemetryShutdown(ctx)
		},
	}, nil
}

// StartResolver launches the deferred resolver loop. It returns
// immediately; the loop stops when ctx is cancelled.
func (s *Server) StartResolver(ctx context.Context) {
	go s.Resolver.Run(ctx)
}

// StartJanitor launches the retention sweep loop. It returns immediately;
// the loop stops when ctx is cancelled.
func (s *Server) StartJanitor(ctx context.Context) {
	go s.Janitor.Start(ctx)
}
