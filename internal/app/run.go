package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"bom-enricher/internal/common/logging"
	"bom-enricher/internal/config"
)

// shutdownTimeout bounds the graceful drain after SIGTERM.
const shutdownTimeout = 30 * time.Second

// Run is the worker entry point: load config, wire the app, consume
// until SIGINT/SIGTERM, then drain.
func Run() error {
	runtime.GOMAXPROCS(runtime.NumCPU())

	logging.InitGlobalLogger()
	defer logging.MustSync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize worker", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to start worker", err)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = app.Shutdown(shutdownCtx)
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down enrichment worker")

	// Stop consumers first, then drain in-flight executions
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Error("Shutdown finished with errors", err)
		return err
	}

	logging.Info("Enrichment worker exited")
	return nil
}
