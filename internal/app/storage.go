package app

import (
	"fmt"

	"bom-enricher/internal/config"
	"bom-enricher/internal/storage"
	"bom-enricher/internal/storage/postgres"
	"bom-enricher/internal/storage/sqlite"
)

// buildSink selects the persistence backend. Both adapters migrate their
// schema on construction.
func buildSink(cfg *config.Config) (storage.Sink, error) {
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		sink, err := postgres.NewAdapter(&postgres.Config{DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL storage: %w", err)
		}
		return sink, nil
	default:
		sink, err := sqlite.NewAdapter(&sqlite.Config{DatabasePath: cfg.DatabasePath})
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite storage: %w", err)
		}
		return sink, nil
	}
}
