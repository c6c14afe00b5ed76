package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration is one versioned schema change of the run journal.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// MigrationManager applies journal schema migrations in version order.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a migration manager for the journal schema.
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: journalMigrations(),
	}
}

// LatestVersion returns the highest known migration version.
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// CurrentVersion returns the highest applied migration version.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.initialize(ctx); err != nil {
		return 0, err
	}

	var version int
	query := "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"
	if err := m.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// MigrateToLatest applies every pending migration.
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	if applied > 0 {
		m.logger.Debug("journal migrations applied",
			"from_version", current,
			"to_version", m.LatestVersion(),
			"applied", applied)
	}
	return nil
}

func (m *MigrationManager) initialize(ctx context.Context) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version        INTEGER PRIMARY KEY,
			description    TEXT NOT NULL,
			applied_at     INTEGER NOT NULL,
			execution_time INTEGER NOT NULL DEFAULT 0
		)`

	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// runMigration executes a single migration and records it in one transaction.
func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	insertQuery := `
		INSERT INTO schema_migrations (version, description, applied_at, execution_time)
		VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertQuery,
		migration.Version,
		migration.Description,
		start.UnixMilli(),
		time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Debug("journal migration applied",
		"version", migration.Version,
		"description", migration.Description,
		"duration", time.Since(start))
	return nil
}

func journalMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create runs table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS runs (
						id                   TEXT PRIMARY KEY,
						started_at           INTEGER NOT NULL,
						finished_at          INTEGER NOT NULL,
						status               TEXT NOT NULL,
						records              INTEGER NOT NULL DEFAULT 0,
						added                INTEGER NOT NULL DEFAULT 0,
						pruned               INTEGER NOT NULL DEFAULT 0,
						refreshed            INTEGER NOT NULL DEFAULT 0,
						skipped_fresh        INTEGER NOT NULL DEFAULT 0,
						skipped_rate_limited INTEGER NOT NULL DEFAULT 0,
						rate_limited         INTEGER NOT NULL DEFAULT 0,
						rate_limited_at      TEXT,
						error                TEXT
					)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "index runs by start time",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at)`)
				return err
			},
		},
		{
			Version:     3,
			Description: "track excluded anomalies per run",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `ALTER TABLE runs ADD COLUMN anomalies_excluded INTEGER NOT NULL DEFAULT 0`)
				return err
			},
		},
	}
}
