// Package sqlite implements the storage sink on SQLite. Intended for
// single-worker deployments and tests; multi-worker deployments should
// use the postgres adapter.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bom-enricher/internal/common/errors"
	"bom-enricher/internal/models"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{db: db, config: config}
	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS components (
			identifier TEXT PRIMARY KEY,
			manufacturer TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			specifications TEXT NOT NULL DEFAULT '[]',
			compliance_flags TEXT NOT NULL DEFAULT '[]',
			pricing TEXT,
			lifecycle_status TEXT NOT NULL DEFAULT '',
			datasheet_url TEXT NOT NULL DEFAULT '',
			source_tier TEXT NOT NULL DEFAULT 'unknown',
			category_confidence REAL NOT NULL DEFAULT 0,
			quality_score REAL NOT NULL DEFAULT 0,
			routing_decision TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS enrichment_history (
			id TEXT PRIMARY KEY,
			business_key TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			attempted_at DATETIME NOT NULL,
			status TEXT NOT NULL,
			quality_score REAL NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			processing_time_ms INTEGER NOT NULL DEFAULT 0,
			issues TEXT NOT NULL DEFAULT '[]',
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			last_step TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_business_key
			ON enrichment_history(business_key, attempted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_history_tenant
			ON enrichment_history(tenant_id, attempted_at DESC)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Save upserts the component and appends the history entry in one
// transaction.
func (a *Adapter) Save(ctx context.Context, record *models.ComponentRecord, entry *models.EnrichmentHistoryEntry) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ConnectionError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := upsertComponent(ctx, tx, record); err != nil {
		return err
	}
	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.ConnectionError("failed to commit enrichment result", err)
	}
	return nil
}

func (a *Adapter) SaveHistory(ctx context.Context, entry *models.EnrichmentHistoryEntry) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ConnectionError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.ConnectionError("failed to commit history entry", err)
	}
	return nil
}

func upsertComponent(ctx context.Context, tx *sql.Tx, record *models.ComponentRecord) error {
	specs, err := json.Marshal(record.Specifications)
	if err != nil {
		return errors.InternalError("failed to encode specifications", err)
	}
	flags, err := json.Marshal(record.ComplianceFlags)
	if err != nil {
		return errors.InternalError("failed to encode compliance flags", err)
	}
	var pricing interface{}
	if record.Pricing != nil {
		encoded, err := json.Marshal(record.Pricing)
		if err != nil {
			return errors.InternalError("failed to encode pricing", err)
		}
		pricing = string(encoded)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO components (
			identifier, manufacturer, description, category, specifications,
			compliance_flags, pricing, lifecycle_status, datasheet_url,
			source_tier, category_confidence, quality_score, routing_decision,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			manufacturer = excluded.manufacturer,
			description = excluded.description,
			category = excluded.category,
			specifications = excluded.specifications,
			compliance_flags = excluded.compliance_flags,
			pricing = excluded.pricing,
			lifecycle_status = excluded.lifecycle_status,
			datasheet_url = excluded.datasheet_url,
			source_tier = excluded.source_tier,
			category_confidence = excluded.category_confidence,
			quality_score = excluded.quality_score,
			routing_decision = excluded.routing_decision,
			updated_at = excluded.updated_at`,
		record.Identifier, record.Manufacturer, record.Description,
		record.Category, string(specs), string(flags), pricing,
		record.LifecycleStatus, record.DatasheetURL, string(record.SourceTier),
		record.CategoryConfidence, record.QualityScore,
		string(record.RoutingDecision), time.Now().UTC(),
	)
	if err != nil {
		return errors.ConnectionError("failed to upsert component", err).
			WithContext("identifier", record.Identifier)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry *models.EnrichmentHistoryEntry) error {
	issues, err := json.Marshal(entry.Issues)
	if err != nil {
		return errors.InternalError("failed to encode issues", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enrichment_history (
			id, business_key, tenant_id, attempted_at, status, quality_score,
			source, processing_time_ms, issues, error_code, error_message,
			last_step
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BusinessKey, entry.TenantID,
		entry.AttemptedAt.UTC(), string(entry.Status), entry.QualityScore,
		entry.Source, entry.ProcessingTime.Milliseconds(), string(issues),
		entry.ErrorCode, entry.ErrorMessage, entry.LastStep,
	)
	if err != nil {
		return errors.ConnectionError("failed to insert history entry", err).
			WithContext("business_key", entry.BusinessKey)
	}
	return nil
}

// Lookup serves the local catalog check.
func (a *Adapter) Lookup(ctx context.Context, identifier string) (*models.ComponentRecord, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT identifier, manufacturer, description, category, specifications,
			compliance_flags, pricing, lifecycle_status, datasheet_url,
			source_tier, category_confidence, quality_score, routing_decision
		FROM components WHERE identifier = ?`, identifier)

	return scanComponent(row, identifier)
}

func scanComponent(row *sql.Row, identifier string) (*models.ComponentRecord, error) {
	var record models.ComponentRecord
	var specs, flags string
	var pricing sql.NullString
	var sourceTier, routing string

	err := row.Scan(
		&record.Identifier, &record.Manufacturer, &record.Description,
		&record.Category, &specs, &flags, &pricing, &record.LifecycleStatus,
		&record.DatasheetURL, &sourceTier, &record.CategoryConfidence,
		&record.QualityScore, &routing,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("component " + identifier)
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to read component", err).
			WithContext("identifier", identifier)
	}

	if err := json.Unmarshal([]byte(specs), &record.Specifications); err != nil {
		return nil, errors.InternalError("corrupt specifications column", err)
	}
	if err := json.Unmarshal([]byte(flags), &record.ComplianceFlags); err != nil {
		return nil, errors.InternalError("corrupt compliance_flags column", err)
	}
	if pricing.Valid && pricing.String != "" {
		record.Pricing = &models.Pricing{}
		if err := json.Unmarshal([]byte(pricing.String), record.Pricing); err != nil {
			return nil, errors.InternalError("corrupt pricing column", err)
		}
	}
	record.SourceTier = models.SourceTier(sourceTier)
	record.RoutingDecision = models.Routing(routing)

	return &record, nil
}

func (a *Adapter) History(ctx context.Context, businessKey string, limit int) ([]*models.EnrichmentHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, business_key, tenant_id, attempted_at, status,
			quality_score, source, processing_time_ms, issues, error_code,
			error_message, last_step
		FROM enrichment_history
		WHERE business_key = ?
		ORDER BY attempted_at DESC
		LIMIT ?`, businessKey, limit)
	if err != nil {
		return nil, errors.ConnectionError("failed to read history", err).
			WithContext("business_key", businessKey)
	}
	defer rows.Close()

	var entries []*models.EnrichmentHistoryEntry
	for rows.Next() {
		var entry models.EnrichmentHistoryEntry
		var status, issues string
		var processingMs int64

		err := rows.Scan(
			&entry.ID, &entry.BusinessKey, &entry.TenantID,
			&entry.AttemptedAt, &status, &entry.QualityScore, &entry.Source,
			&processingMs, &issues, &entry.ErrorCode, &entry.ErrorMessage,
			&entry.LastStep,
		)
		if err != nil {
			return nil, errors.ConnectionError("failed to scan history row", err)
		}

		entry.Status = models.HistoryStatus(status)
		entry.ProcessingTime = time.Duration(processingMs) * time.Millisecond
		if err := json.Unmarshal([]byte(issues), &entry.Issues); err != nil {
			return nil, errors.InternalError("corrupt issues column", err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) Close() error {
	return a.db.Close()
}
