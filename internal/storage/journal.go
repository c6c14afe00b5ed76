package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// SQLiteJournal appends a row per refresh run to a SQLite database.
type SQLiteJournal struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// OpenSQLiteJournal opens (or creates) the journal database at path and brings its
// schema up to date. path may be ":memory:".
func OpenSQLiteJournal(ctx context.Context, path string, logger *slog.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, NewStorageError("open", path, fmt.Errorf("open sqlite: %w", err))
	}

	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, NewStorageError("open", path, fmt.Errorf("set WAL mode: %w", err))
	}

	if err := NewMigrationManager(db, logger).MigrateToLatest(ctx); err != nil {
		db.Close()
		return nil, NewStorageError("migrate", path, err)
	}

	logger.Debug("run journal opened", "path", path)
	return &SQLiteJournal{db: db, path: path, logger: logger}, nil
}

// Record implements Journal.Record.
func (j *SQLiteJournal) Record(ctx context.Context, summary *models.RunSummary) error {
	if summary == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return NewStorageError("record", j.path, errors.New("journal is closed"))
	}

	query := `
		INSERT INTO runs (
			id, started_at, finished_at, status,
			records, added, pruned, refreshed, skipped_fresh, skipped_rate_limited,
			anomalies_excluded, rate_limited, rate_limited_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		summary.ID,
		summary.StartedAt.UnixMilli(),
		summary.FinishedAt.UnixMilli(),
		string(summary.Status),
		summary.Records,
		summary.Added,
		summary.Pruned,
		summary.Refreshed,
		summary.SkippedFresh,
		summary.SkippedRateLimited,
		summary.AnomaliesExcluded,
		summary.RateLimited,
		nullString(summary.RateLimitedAt),
		nullString(summary.Error),
	)
	if err != nil {
		return NewStorageError("record", j.path, err)
	}
	return nil
}

// Recent implements Journal.Recent.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		return []models.RunSummary{}, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return nil, NewStorageError("recent", j.path, errors.New("journal is closed"))
	}

	query := `
		SELECT id, started_at, finished_at, status,
			records, added, pruned, refreshed, skipped_fresh, skipped_rate_limited,
			anomalies_excluded, rate_limited, rate_limited_at, error
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, NewStorageError("recent", j.path, err)
	}
	defer rows.Close()

	summaries := make([]models.RunSummary, 0, limit)
	for rows.Next() {
		var (
			s                     models.RunSummary
			started, finished     int64
			status                string
			rateLimitedAt, errMsg sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &started, &finished, &status,
			&s.Records, &s.Added, &s.Pruned, &s.Refreshed, &s.SkippedFresh, &s.SkippedRateLimited,
			&s.AnomaliesExcluded, &s.RateLimited, &rateLimitedAt, &errMsg,
		); err != nil {
			return nil, NewStorageError("recent", j.path, err)
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		s.FinishedAt = time.UnixMilli(finished).UTC()
		s.Status = models.RunStatus(status)
		s.RateLimitedAt = rateLimitedAt.String
		s.Error = errMsg.String
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("recent", j.path, err)
	}

	return summaries, nil
}

// Close implements Journal.Close.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	if err != nil {
		return NewStorageError("close", j.path, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NopJournal discards run summaries. It is used when no journal path is configured.
type NopJournal struct{}

// Record implements Journal.Record.
func (NopJournal) Record(context.Context, *models.RunSummary) error { return nil }

// Recent implements Journal.Recent.
func (NopJournal) Recent(context.Context, int) ([]models.RunSummary, error) {
	return []models.RunSummary{}, nil
}

// Close implements Journal.Close.
func (NopJournal) Close() error { return nil }

// OpenJournal opens a SQLite journal at path, or returns a NopJournal when path is empty.
func OpenJournal(ctx context.Context, path string, logger *slog.Logger) (Journal, error) {
	if path == "" {
		return NopJournal{}, nil
	}
	return OpenSQLiteJournal(ctx, path, logger)
}
