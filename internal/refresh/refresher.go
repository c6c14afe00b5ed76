// Package refresh implements the stale-record refresh loop: it merges the persisted
// record set with the upstream listing, recomputes trailing-window statistics for
// records that have gone stale, and persists the result.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-cx-pricefeed/internal/config"
	apperrors "github.com/johnayoung/go-cx-pricefeed/internal/errors"
	"github.com/johnayoung/go-cx-pricefeed/internal/exchange"
	"github.com/johnayoung/go-cx-pricefeed/internal/logger"
	"github.com/johnayoung/go-cx-pricefeed/internal/metrics"
	"github.com/johnayoung/go-cx-pricefeed/internal/models"
	"github.com/johnayoung/go-cx-pricefeed/internal/storage"
	"github.com/johnayoung/go-cx-pricefeed/internal/validator"
	"github.com/johnayoung/go-cx-pricefeed/internal/window"
)

const componentName = "refresh"

// Refresher runs refresh passes over the record set.
type Refresher struct {
	gateway  exchange.Gateway
	store    storage.DatasetStore
	exporter storage.Exporter
	journal  storage.Journal
	throttle Throttle
	filter   *validator.AnomalyFilter
	metrics  *metrics.RunMetrics
	clock    func() time.Time
	logger   *slog.Logger

	staleAfter      time.Duration
	primaryInterval string
	prune           bool
	anomalyFactor   float64
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithJournal records every run in journal.
func WithJournal(journal storage.Journal) Option {
	return func(r *Refresher) {
		if journal != nil {
			r.journal = journal
		}
	}
}

// WithExporter writes the tabular export after each successful run.
func WithExporter(exporter storage.Exporter) Option {
	return func(r *Refresher) {
		r.exporter = exporter
	}
}

// WithThrottle replaces the default one-request-per-second throttle.
func WithThrottle(throttle Throttle) Option {
	return func(r *Refresher) {
		if throttle != nil {
			r.throttle = throttle
		}
	}
}

// WithClock sets the source of the run's reference instant.
func WithClock(clock func() time.Time) Option {
	return func(r *Refresher) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAnomalyFilter replaces the default anomaly filter. It takes precedence over
// the anomaly factor set by WithConfig.
func WithAnomalyFilter(filter *validator.AnomalyFilter) Option {
	return func(r *Refresher) {
		if filter != nil {
			r.filter = filter
		}
	}
}

// WithMetrics collects run metrics into m.
func WithMetrics(m *metrics.RunMetrics) Option {
	return func(r *Refresher) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithConfig applies the refresh section of the application configuration.
func WithConfig(cfg config.RefreshConfig) Option {
	return func(r *Refresher) {
		r.staleAfter = cfg.StaleAfterDuration()
		r.throttle = NewThrottle(cfg.ThrottleIntervalDuration())
		r.prune = cfg.PruneDelisted
		if cfg.PrimaryInterval != "" {
			r.primaryInterval = cfg.PrimaryInterval
		}
		if cfg.AnomalyFactor > 0 {
			r.anomalyFactor = cfg.AnomalyFactor
		}
	}
}

// New creates a Refresher reading upstream data from gateway and persisting to store.
func New(gateway exchange.Gateway, store storage.DatasetStore, opts ...Option) *Refresher {
	r := &Refresher{
		gateway:         gateway,
		store:           store,
		journal:         storage.NopJournal{},
		throttle:        NewThrottle(DefaultThrottleInterval),
		metrics:         metrics.NewRunMetrics(),
		clock:           time.Now,
		logger:          slog.Default(),
		staleAfter:      window.DefaultStaleAfter,
		primaryInterval: models.IntervalDayOne,
		prune:           true,
		anomalyFactor:   validator.DefaultDeviationFactor,
	}

	for _, opt := range opts {
		opt(r)
	}

	// Built after the options so the filter logs through the final logger.
	if r.filter == nil {
		r.filter = validator.NewAnomalyFilterWithFactor(r.anomalyFactor, r.logger)
	}
	return r
}

// Metrics returns the metrics collected by the last run.
func (r *Refresher) Metrics() *metrics.RunMetrics {
	return r.metrics
}

// Run performs one refresh pass and returns its summary.
//
// A fatal error (unreadable dataset, unreachable or malformed upstream) aborts the run
// before anything is written. Rate limiting is not an error: the run
// completes with the remaining stale records left as they were. A cancelled context
// aborts the run without persisting.
//
// The export is rendered before the dataset is saved, so a record set that cannot be
// exported leaves both files untouched. The two writes are still separate: if the
// export write fails after the save, the new dataset sits next to the previous export
// until the next run or an explicit export regenerates it.
func (r *Refresher) Run(ctx context.Context) (*models.RunSummary, error) {
	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := r.logger.With(logger.ContextAttrs(ctx)...)

	r.metrics.Reset()
	classifier := window.NewClassifier(r.clock()).WithStaleAfter(r.staleAfter)
	summary := models.NewRunSummary(runID, classifier.Now())

	log.Info("refresh run started", "reference_time", summary.StartedAt)

	err := r.run(ctx, log, classifier, summary)

	snapshot := r.metrics.Snapshot()
	summary.Refreshed = int(snapshot.RecordsRefreshed)
	summary.SkippedFresh = int(snapshot.SkippedFresh)
	summary.SkippedRateLimited = int(snapshot.SkippedRateLimited)
	summary.AnomaliesExcluded = int(snapshot.AnomaliesExcluded)
	summary.Finish(r.clock(), err)

	if jerr := r.journal.Record(context.WithoutCancel(ctx), summary); jerr != nil {
		log.Warn("failed to record run in journal", "error", jerr)
	}

	if err != nil {
		logger.LogError(log, err, "refresh run failed",
			"status", summary.Status,
			"error_type", apperrors.GetErrorType(err),
			"metrics", snapshot)
		return summary, err
	}

	log.Info("refresh run finished",
		"status", summary.Status,
		"records", summary.Records,
		"added", summary.Added,
		"pruned", summary.Pruned,
		"refreshed", summary.Refreshed,
		"skipped_fresh", summary.SkippedFresh,
		"skipped_rate_limited", summary.SkippedRateLimited,
		"rate_limited_at", summary.RateLimitedAt,
		"duration", summary.Duration(),
		"metrics", snapshot)

	return summary, nil
}

func (r *Refresher) run(ctx context.Context, log *slog.Logger, classifier window.Classifier, summary *models.RunSummary) error {
	persisted, err := r.store.Load(ctx)
	if err != nil {
		return storageFailure(ctx, "load_dataset", err)
	}

	listing, err := r.gateway.FetchListing(ctx)
	if err != nil {
		return fmt.Errorf("fetch listing: %w", err)
	}
	if len(listing) == 0 {
		log.Warn("upstream listing is empty, keeping persisted records unchanged",
			"persisted", len(persisted))
	}

	merged := Merge(persisted, listing, r.prune)
	summary.Records = len(merged.Records)
	summary.Added = merged.Added
	summary.Pruned = merged.Pruned
	if merged.Duplicates > 0 {
		log.Warn("dropped entries with duplicate tickers", "duplicates", merged.Duplicates)
	}
	log.Debug("merged listing",
		"persisted", len(persisted),
		"listed", len(listing),
		"records", len(merged.Records),
		"added", merged.Added,
		"pruned", merged.Pruned)

	rateLimited := false
	for _, record := range OrderByStaleness(merged.Records) {
		if err := ctx.Err(); err != nil {
			return err
		}

		ticker := record.FullTicker()
		record.Overlay(merged.Listing[ticker])

		if !classifier.IsStale(record.Timestamp) {
			r.metrics.RecordSkippedFresh()
			log.Debug("record is fresh", string(logger.TickerKey), ticker)
			continue
		}
		if rateLimited {
			r.metrics.RecordSkippedRateLimited()
			log.Debug("skipping stale record while rate limited", string(logger.TickerKey), ticker)
			continue
		}

		if err := r.throttle.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("throttle: %w", err)
		}

		limited, err := r.refreshRecord(logger.WithTicker(ctx, ticker), log, classifier, record)
		if err != nil {
			return err
		}
		if limited {
			rateLimited = true
			summary.MarkRateLimited(ticker)
			r.metrics.RecordSkippedRateLimited()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var export []byte
	if r.exporter != nil {
		export, err = r.exporter.Render(merged.Records)
		if err != nil {
			return storageFailure(ctx, "render_csv", err)
		}
	}

	if err := r.store.Save(ctx, merged.Records); err != nil {
		return storageFailure(ctx, "save_dataset", err)
	}
	if r.exporter != nil {
		if err := r.exporter.Write(ctx, export); err != nil {
			return storageFailure(ctx, "export_csv", err)
		}
	}
	return nil
}

// refreshRecord fetches history for one stale record and applies it. It reports
// whether the fetch was rate limited, in which case the record is left unchanged.
func (r *Refresher) refreshRecord(ctx context.Context, log *slog.Logger, classifier window.Classifier, record *models.PriceRecord) (bool, error) {
	ticker := logger.GetTicker(ctx)
	log = log.With(string(logger.TickerKey), ticker)

	result, err := r.gateway.FetchHistory(ctx, ticker)
	if err != nil {
		r.metrics.RecordFetchFailure(result.Elapsed)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return false, ctxErr
		}
		return false, fmt.Errorf("fetch history for %s: %w", ticker, err)
	}

	if result.RateLimited {
		r.metrics.RecordRateLimitHit()
		log.Warn("rate limited, remaining stale records keep their previous statistics",
			"elapsed", result.Elapsed)
		return true, nil
	}

	r.metrics.RecordFetch(result.Elapsed, len(result.Entries))
	if result.Empty() {
		log.Debug("no history returned, statistics will be null")
	}
	applied := ApplyHistory(record, result.Entries, r.primaryInterval, classifier, r.filter)
	r.metrics.RecordAnomalies(applied.Excluded)
	r.metrics.RecordRefreshed()

	logger.LogDuration(ctx, log, slog.LevelInfo, "fetch_history", result.Elapsed, "refreshed record",
		"candles", applied.Candles,
		"excluded", applied.Excluded,
		"has_yesterday", applied.HasYesterday)
	return false, nil
}

// storageFailure classifies a persistence error. Cancellation is passed through so it
// maps to an interrupt rather than a data error.
func storageFailure(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	return apperrors.New(apperrors.ErrorTypeStorage, componentName, operation, err)
}
