// Package server provides the public entry point for initializing the
// asklens control plane server.
//
// This package exists in pkg/ (not internal/) so deployments can compose the
// handler with their own outer middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/asklens/asklens/internal/api"
	"github.com/asklens/asklens/internal/api/handlers"
	"github.com/asklens/asklens/internal/catalog"
	"github.com/asklens/asklens/internal/config"
	"github.com/asklens/asklens/internal/executor"
	"github.com/asklens/asklens/internal/llm"
	"github.com/asklens/asklens/internal/narrative"
	"github.com/asklens/asklens/internal/pipeline"
	"github.com/asklens/asklens/internal/promptguard"
	"github.com/asklens/asklens/internal/resilience"
	"github.com/asklens/asklens/internal/sqlgen"
	"github.com/asklens/asklens/internal/telemetry"
	"github.com/asklens/asklens/pkg/models"
)

// Server holds the initialized asklens control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Catalog is the active field catalog store.
	Catalog catalog.Store

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry
	// and release pools.
	ShutdownFunc func(context.Context) error
}

// New initializes all components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	registry := prometheus.NewRegistry()

	gate := resilience.NewGate(resilience.GateConfig{
		Breaker: resilience.BreakerConfig{
			WindowSize:         cfg.Resilience.WindowSize,
			MinCallsBeforeEval: cfg.Resilience.MinCallsBeforeEval,
			ErrorThreshold:     cfg.Resilience.ErrorThreshold,
			OpenDuration:       cfg.Resilience.OpenDuration,
		},
		Limiter: resilience.LimiterConfig{
			MaxConcurrent: cfg.Resilience.MaxConcurrent,
			QueueTimeout:  cfg.Resilience.QueueTimeout,
		},
		CoalesceTTL: cfg.Resilience.CoalesceTTL,
	}, clockwork.NewRealClock(), registry)
	log.Info().Msg("✅ Resilience gate initialized")

	store, closeCatalog := buildCatalog(ctx, cfg)

	exec, err := executor.Open(cfg.Database, cfg.Executor)
	if err != nil {
		return nil, fmt.Errorf("open executor: %w", err)
	}
	log.Info().Msg("✅ Query executor initialized")

	guarded := llm.NewGuardedClient(gate, llm.NewHTTPClient(cfg.LLM))
	budget := promptguard.Budget{
		MaxBaseChars:      cfg.Prompt.MaxBaseChars,
		MaxSchemaChars:    cfg.Prompt.MaxSchemaChars,
		MaxExampleChars:   cfg.Prompt.MaxExampleChars,
		MaxRetrievalChars: cfg.Prompt.MaxRetrievalChars,
		MaxTotalChars:     cfg.Prompt.MaxTotalChars,
	}

	generator := sqlgen.New(guarded, sqlgen.Config{
		MaxCorrectionRetries: cfg.LLM.MaxCorrectionRetries,
		MaxTokens:            cfg.LLM.MaxTokens,
		Temperature:          cfg.LLM.Temperature,
		Timeout:              cfg.LLM.Timeout,
		Budget:               budget,
		RowLimit:             cfg.Executor.MaxRows,
	})
	narrator := narrative.New(guarded, narrative.Config{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Budget:      budget,
		SampleRows:  cfg.Executor.SampleRows,
	})
	log.Info().Str("provider", cfg.LLM.Kind).Str("model", cfg.LLM.Model).Msg("✅ Generators initialized")

	p := pipeline.New(store, exec, generator, narrator)
	h := handlers.New(p, gate)
	router := api.NewRouter(cfg, h, registry)

	shutdown := func(ctx context.Context) error {
		gate.Close()
		closeCatalog()
		if err := exec.Close(); err != nil {
			log.Warn().Err(err).Msg("closing executor pool")
		}
		return telemetryShutdown(ctx)
	}

	return &Server{
		Handler:      router,
		Catalog:      store,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// buildCatalog connects the PostgreSQL catalog, wrapping it in the LRU cache
// when a TTL is configured. When the database is unreachable it falls back to
// a seeded in-memory catalog so local development works with zero setup.
func buildCatalog(ctx context.Context, cfg *config.Config) (catalog.Store, func()) {
	pg, err := catalog.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		log.Warn().Err(err).Msg("catalog database unavailable, using in-memory catalog")
		return seededMemoryCatalog(), func() {}
	}
	log.Info().Msg("✅ PostgreSQL catalog initialized")

	var store catalog.Store = pg
	if ttl := cfg.Database.CatalogCacheTTL; ttl > 0 {
		store = catalog.NewCachedStore(pg, ttl)
		log.Info().Dur("ttl", ttl).Msg("✅ Catalog cache enabled")
	}
	return store, pg.Close
}

// seededMemoryCatalog registers the demo golf-operations datasets.
func seededMemoryCatalog() *catalog.MemoryStore {
	store := catalog.NewMemoryStore()
	store.RegisterDataset(
		models.DatasetInfo{Name: "golf_revenue", TableRef: "fact_golf_revenue", IsTimeSeries: true, DateFieldKey: "business_date"},
		[]models.FieldCatalogEntry{
			{Dataset: "golf_revenue", FieldKey: "course_id", Label: "Course", DataType: models.DataTypeString, IsFilterable: true, IsSortable: true, ColumnExpression: "course_id", TableRef: "fact_golf_revenue"},
			{Dataset: "golf_revenue", FieldKey: "business_date", Label: "Business Date", DataType: models.DataTypeDate, IsFilterable: true, IsSortable: true, ColumnExpression: "business_date", TableRef: "fact_golf_revenue"},
			{Dataset: "golf_revenue", FieldKey: "total_revenue", Label: "Total Revenue", DataType: models.DataTypeNumber, Aggregation: models.AggregationSum, IsMetric: true, IsSortable: true, ColumnExpression: "total_revenue", TableRef: "fact_golf_revenue"},
			{Dataset: "golf_revenue", FieldKey: "rounds_played", Label: "Rounds Played", DataType: models.DataTypeNumber, Aggregation: models.AggregationSum, IsMetric: true, IsSortable: true, ColumnExpression: "rounds_played", TableRef: "fact_golf_revenue"},
			{Dataset: "golf_revenue", FieldKey: "online_revenue", Label: "Online Revenue", DataType: models.DataTypeNumber, Aggregation: models.AggregationSum, IsMetric: true, ColumnExpression: "CASE WHEN channel = 'online' THEN total_revenue ELSE 0 END", TableRef: "fact_golf_revenue"},
		},
	)
	store.RegisterDataset(
		models.DatasetInfo{Name: "golf_bookings", TableRef: "fact_golf_bookings"},
		[]models.FieldCatalogEntry{
			{Dataset: "golf_bookings", FieldKey: "channel", Label: "Channel", DataType: models.DataTypeString, IsFilterable: true, IsSortable: true, ColumnExpression: "channel", TableRef: "fact_golf_bookings"},
			{Dataset: "golf_bookings", FieldKey: "bookings", Label: "Bookings", DataType: models.DataTypeNumber, Aggregation: models.AggregationCount, IsMetric: true, ColumnExpression: "booking_id", TableRef: "fact_golf_bookings"},
		},
	)
	log.Info().Msg("✅ Demo catalog seeded")
	return store
}
