// Package app wires the enrichment worker together: explicit dependency
// construction from config, a single startup sequence, and a single
// shutdown path. No component reaches for a global registry; everything
// is passed where it is used.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"bom-enricher/internal/brokers"
	"bom-enricher/internal/catalog"
	"bom-enricher/internal/circuitbreaker"
	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/config"
	"bom-enricher/internal/dispatcher"
	"bom-enricher/internal/events"
	"bom-enricher/internal/locks"
	"bom-enricher/internal/redis"
	"bom-enricher/internal/riskcache"
	"bom-enricher/internal/scoring"
	"bom-enricher/internal/server"
	"bom-enricher/internal/storage"
	"bom-enricher/internal/suppliers"
	"bom-enricher/internal/workflow"
)

// reclaimSchedule is how often stalled executions are swept.
const reclaimSchedule = "@every 1m"

// staleAfter is how long an execution may go without a checkpoint before
// the reclaimer considers its worker dead.
const staleAfter = 5 * time.Minute

// App holds the wired enrichment worker.
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Locker      locks.Locker
	Idempotency *locks.Idempotency
	Broker      brokers.Broker
	Sink        storage.Sink
	Breakers    *circuitbreaker.Manager
	Store       *workflow.Store
	Engine      *workflow.Engine
	Reclaimer   *workflow.Reclaimer
	Dispatcher  *dispatcher.Dispatcher
	RiskCache   *riskcache.Cache
	Server      *server.Server
	Logger      logging.Logger

	cron *cron.Cron
}

// New constructs the full dependency graph. Nothing starts running yet;
// call Start.
func New(cfg *config.Config) (*App, error) {
	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"})

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	locker, err := buildLocker(cfg, redisClient, logger)
	if err != nil {
		redisClient.Close()
		return nil, err
	}

	broker, err := buildBroker(cfg, logger)
	if err != nil {
		redisClient.Close()
		return nil, err
	}

	sink, err := buildSink(cfg)
	if err != nil {
		broker.Close()
		redisClient.Close()
		return nil, err
	}

	scorer, err := scoring.NewScorer(scoring.Config{Checklist: cfg.SpecChecklist})
	if err != nil {
		return nil, fmt.Errorf("failed to build scorer: %w", err)
	}

	breakers := circuitbreaker.NewManager(circuitbreaker.SupplierConfig, logger)
	chain, err := buildSupplierChain(cfg, breakers, logger)
	if err != nil {
		return nil, err
	}

	idem := locks.NewIdempotency(redisClient, cfg.IdempotencyTTL, logger)
	store := workflow.NewStore(redisClient, 0)
	publisher := events.NewPublisher(broker, cfg.EventsTopic, cfg.ScoresTopic, logger)

	orchestrator := workflow.NewOrchestrator(workflow.OrchestratorConfig{
		Store:       store,
		Locker:      locker,
		Idempotency: idem,
		Catalog:     sink,
		Suppliers:   chain,
		Scorer:      scorer,
		Sink:        sink,
		Notifier:    publisher,
		LockTTL:     cfg.LockTTL,
		LockTimeout: cfg.LockAcquireTimeout,
		Logger:      logger,
	})

	// The start-dedup register has its own window, tunable independently
	// of the persist idempotency guard
	startDedup := locks.NewIdempotency(redisClient, cfg.StartDedupTTL, logger)
	engine := workflow.NewEngine(store, orchestrator, startDedup, cfg.WorkerSlots, logger)
	reclaimer := workflow.NewReclaimer(store, engine, staleAfter, logger)

	app := &App{
		Config:      cfg,
		RedisClient: redisClient,
		Locker:      locker,
		Idempotency: idem,
		Broker:      broker,
		Sink:        sink,
		Breakers:    breakers,
		Store:       store,
		Engine:      engine,
		Reclaimer:   reclaimer,
		Dispatcher:  dispatcher.New(broker, engine, cfg.EnrichmentTopic, logger),
		RiskCache:   riskcache.NewCache(redisClient, cfg.RiskCacheTTL, logger),
		Logger:      logger,
		cron:        cron.New(),
	}
	app.Server = server.New(app.buildOps().Router(), cfg.OpsPort, logger)
	return app, nil
}

// Start begins consuming and serving. Consumption stops when ctx is
// cancelled; call Shutdown afterwards to drain.
func (app *App) Start(ctx context.Context) error {
	if err := app.Dispatcher.Run(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	if err := app.RiskCache.Run(ctx, app.Broker, app.Config.ScoresTopic); err != nil {
		return fmt.Errorf("failed to start risk cache consumer: %w", err)
	}

	if _, err := app.cron.AddFunc(reclaimSchedule, func() {
		if _, err := app.Reclaimer.Reclaim(ctx); err != nil {
			app.Logger.Warn("Reclaim sweep failed",
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reclaimer: %w", err)
	}
	app.cron.Start()

	app.Server.Start()
	app.Logger.Info("Enrichment worker started",
		logging.Field{Key: "broker", Value: app.Broker.Name()},
		logging.Field{Key: "ops_port", Value: app.Config.OpsPort},
		logging.Field{Key: "worker_slots", Value: app.Config.WorkerSlots},
	)
	return nil
}

// Shutdown drains and releases everything. The caller must have
// cancelled the Start context first so subscriptions stop feeding the
// engine.
func (app *App) Shutdown(ctx context.Context) error {
	<-app.cron.Stop().Done()

	// In-flight executions checkpoint as they go; wait for them rather
	// than abandoning locks to TTL expiry
	app.Engine.Wait()

	if err := app.Server.Shutdown(ctx); err != nil {
		app.Logger.Warn("Ops server shutdown failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	if err := app.Broker.Close(); err != nil {
		app.Logger.Warn("Broker close failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	if err := app.Sink.Close(); err != nil {
		app.Logger.Warn("Storage close failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	if err := app.Locker.Close(); err != nil {
		app.Logger.Warn("Lock manager close failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
	return app.RedisClient.Close()
}

// buildOps assembles the operational HTTP surface.
func (app *App) buildOps() *server.Ops {
	ops := server.NewOps(app.Logger)

	ops.AddCheck("redis", func(ctx context.Context) error { return app.RedisClient.Health() })
	ops.AddCheck("broker", func(ctx context.Context) error { return app.Broker.Health() })
	ops.AddCheck("storage", func(ctx context.Context) error { return app.Sink.Health() })

	ops.AddStats("in_flight", func() interface{} { return app.Engine.InFlight() })
	ops.AddStats("worker_slots", func() interface{} { return app.Config.WorkerSlots })
	ops.AddStats("breakers", func() interface{} { return app.Breakers.AllStats() })

	return ops
}

// buildLocker selects the lock backend.
func buildLocker(cfg *config.Config, redisClient *redis.Client, logger logging.Logger) (locks.Locker, error) {
	switch cfg.LockBackend {
	case "redsync":
		locker, err := locks.NewRedsyncManager(redisClient, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build redsync lock manager: %w", err)
		}
		return locker, nil
	default:
		return locks.NewManager(redisClient, logger), nil
	}
}

// buildSupplierChain constructs one HTTP adapter per configured endpoint.
// No endpoints means catalog-only operation: every catalog miss becomes a
// terminal not-found.
func buildSupplierChain(cfg *config.Config, breakers *circuitbreaker.Manager, logger logging.Logger) (*catalog.Chain, error) {
	adapters := make([]catalog.SupplierAdapter, 0, len(cfg.Suppliers))
	for _, endpoint := range cfg.Suppliers {
		adapter, err := suppliers.NewAdapter(&suppliers.Config{
			Name:     endpoint.Name,
			Priority: endpoint.Priority,
			BaseURL:  endpoint.BaseURL,
			APIKey:   endpoint.APIKey,
			Timeout:  cfg.SupplierTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build supplier %q: %w", endpoint.Name, err)
		}
		adapters = append(adapters, adapter)
	}
	return catalog.NewChain(adapters, breakers, cfg.MinSupplierConfidence, logger), nil
}
