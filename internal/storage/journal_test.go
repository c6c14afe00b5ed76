package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

func createTestSummary(id string, startedAt time.Time) *models.RunSummary {
	summary := models.NewRunSummary(id, startedAt)
	summary.Records = 5
	summary.Refreshed = 1
	summary.SkippedFresh = 2
	summary.SkippedRateLimited = 2
	summary.AnomaliesExcluded = 3
	summary.MarkRateLimited("RAT.AI1")
	summary.Finish(startedAt.Add(4*time.Second), nil)
	return summary
}

func TestSQLiteJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	journal, err := OpenSQLiteJournal(ctx, path, createTestLogger())
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := createTestSummary("run-1", base)
	second := models.NewRunSummary("run-2", base.Add(time.Hour))
	second.Finish(base.Add(time.Hour+time.Second), errors.New("malformed response"))

	require.NoError(t, journal.Record(ctx, first))
	require.NoError(t, journal.Record(ctx, second))
	require.NoError(t, journal.Record(ctx, nil))

	t.Run("recent returns newest first", func(t *testing.T) {
		runs, err := journal.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)

		assert.Equal(t, "run-2", runs[0].ID)
		assert.Equal(t, models.RunStatusFailed, runs[0].Status)
		assert.Equal(t, "malformed response", runs[0].Error)
		assert.False(t, runs[0].RateLimited)

		got := runs[1]
		assert.Equal(t, "run-1", got.ID)
		assert.Equal(t, models.RunStatusDegraded, got.Status)
		assert.True(t, got.StartedAt.Equal(first.StartedAt))
		assert.True(t, got.FinishedAt.Equal(first.FinishedAt))
		assert.Equal(t, 5, got.Records)
		assert.Equal(t, 1, got.Refreshed)
		assert.Equal(t, 2, got.SkippedFresh)
		assert.Equal(t, 2, got.SkippedRateLimited)
		assert.Equal(t, 3, got.AnomaliesExcluded)
		assert.True(t, got.RateLimited)
		assert.Equal(t, "RAT.AI1", got.RateLimitedAt)
		assert.Empty(t, got.Error)
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := journal.Recent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "run-2", runs[0].ID)

		runs, err = journal.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("duplicate run id is rejected", func(t *testing.T) {
		assert.Error(t, journal.Record(ctx, first))
	})

	require.NoError(t, journal.Close())
	require.NoError(t, journal.Close(), "close is idempotent")
	assert.Error(t, journal.Record(ctx, first))

	t.Run("reopen keeps history and schema version", func(t *testing.T) {
		reopened, err := OpenSQLiteJournal(ctx, path, createTestLogger())
		require.NoError(t, err)
		defer reopened.Close()

		runs, err := reopened.Recent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, runs, 2)

		version, err := NewMigrationManager(reopened.db, createTestLogger()).CurrentVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, version)
	})
}

func TestMigrationManager(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	manager := NewMigrationManager(db, createTestLogger())
	assert.Equal(t, 3, manager.LatestVersion())

	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	require.NoError(t, manager.MigrateToLatest(ctx))
	require.NoError(t, manager.MigrateToLatest(ctx), "migrations are idempotent")

	version, err = manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestOpenJournal(t *testing.T) {
	ctx := context.Background()

	journal, err := OpenJournal(ctx, "", createTestLogger())
	require.NoError(t, err)
	assert.IsType(t, NopJournal{}, journal)
	assert.NoError(t, journal.Record(ctx, createTestSummary("x", time.Now())))
	runs, err := journal.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, journal.Close())

	journal, err = OpenJournal(ctx, filepath.Join(t.TempDir(), "runs.db"), createTestLogger())
	require.NoError(t, err)
	defer journal.Close()
	assert.IsType(t, &SQLiteJournal{}, journal)
}
