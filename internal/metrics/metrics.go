// Package metrics tracks counters and timings for a single refresh run. The
// snapshot is folded into the run summary and logged when the run finishes.
package metrics

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Metric represents a single named value in a snapshot
type Metric struct {
	Name        string     `json:"name"`
	Type        MetricType `json:"type"`
	Value       float64    `json:"value"`
	Description string     `json:"description"`
}

// RunMetrics tracks refresh run performance and statistics
type RunMetrics struct {
	// Atomic counters for thread-safe updates
	historyFetches     int64
	historyFailures    int64
	rateLimitHits      int64
	recordsRefreshed   int64
	skippedFresh       int64
	skippedRateLimited int64
	anomaliesExcluded  int64
	candlesReceived    int64

	// Response time tracking
	totalFetchTime int64 // nanoseconds
	maxFetchTime   int64 // nanoseconds
	fetchCount     int64

	startTime time.Time
	mutex     sync.RWMutex
}

// Snapshot is a point-in-time copy of the run metrics
type Snapshot struct {
	HistoryFetches     int64         `json:"history_fetches"`
	HistoryFailures    int64         `json:"history_failures"`
	RateLimitHits      int64         `json:"rate_limit_hits"`
	RecordsRefreshed   int64         `json:"records_refreshed"`
	SkippedFresh       int64         `json:"skipped_fresh"`
	SkippedRateLimited int64         `json:"skipped_rate_limited"`
	AnomaliesExcluded  int64         `json:"anomalies_excluded"`
	CandlesReceived    int64         `json:"candles_received"`
	AvgFetchTime       time.Duration `json:"avg_fetch_time"`
	MaxFetchTime       time.Duration `json:"max_fetch_time"`
	Elapsed            time.Duration `json:"elapsed"`
}

// NewRunMetrics creates a new run metrics tracker
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		startTime: time.Now(),
	}
}

// RecordFetch records a completed history fetch and the number of candles it returned
func (m *RunMetrics) RecordFetch(duration time.Duration, candles int) {
	atomic.AddInt64(&m.historyFetches, 1)
	atomic.AddInt64(&m.candlesReceived, int64(candles))
	m.recordFetchTime(duration)
}

// RecordFetchFailure records a history fetch that ended in a fatal error
func (m *RunMetrics) RecordFetchFailure(duration time.Duration) {
	atomic.AddInt64(&m.historyFailures, 1)
	m.recordFetchTime(duration)
}

func (m *RunMetrics) recordFetchTime(duration time.Duration) {
	ns := duration.Nanoseconds()
	atomic.AddInt64(&m.totalFetchTime, ns)
	atomic.AddInt64(&m.fetchCount, 1)
	for {
		current := atomic.LoadInt64(&m.maxFetchTime)
		if ns <= current || atomic.CompareAndSwapInt64(&m.maxFetchTime, current, ns) {
			return
		}
	}
}

// RecordRateLimitHit records when rate limiting is encountered
func (m *RunMetrics) RecordRateLimitHit() {
	atomic.AddInt64(&m.rateLimitHits, 1)
}

// RecordRefreshed records a record whose statistics were recomputed
func (m *RunMetrics) RecordRefreshed() {
	atomic.AddInt64(&m.recordsRefreshed, 1)
}

// RecordSkippedFresh records a record skipped because its statistics are recent
func (m *RunMetrics) RecordSkippedFresh() {
	atomic.AddInt64(&m.skippedFresh, 1)
}

// RecordSkippedRateLimited records a stale record skipped because the run is rate limited
func (m *RunMetrics) RecordSkippedRateLimited() {
	atomic.AddInt64(&m.skippedRateLimited, 1)
}

// RecordAnomalies records candles excluded by the anomaly filter
func (m *RunMetrics) RecordAnomalies(count int) {
	atomic.AddInt64(&m.anomaliesExcluded, int64(count))
}

// Snapshot returns current metrics
func (m *RunMetrics) Snapshot() Snapshot {
	totalFetchTime := atomic.LoadInt64(&m.totalFetchTime)
	fetchCount := atomic.LoadInt64(&m.fetchCount)

	// Calculate average response time
	var avgFetchTime time.Duration
	if fetchCount > 0 {
		avgFetchTime = time.Duration(totalFetchTime / fetchCount)
	}

	m.mutex.RLock()
	elapsed := time.Since(m.startTime)
	m.mutex.RUnlock()

	return Snapshot{
		HistoryFetches:     atomic.LoadInt64(&m.historyFetches),
		HistoryFailures:    atomic.LoadInt64(&m.historyFailures),
		RateLimitHits:      atomic.LoadInt64(&m.rateLimitHits),
		RecordsRefreshed:   atomic.LoadInt64(&m.recordsRefreshed),
		SkippedFresh:       atomic.LoadInt64(&m.skippedFresh),
		SkippedRateLimited: atomic.LoadInt64(&m.skippedRateLimited),
		AnomaliesExcluded:  atomic.LoadInt64(&m.anomaliesExcluded),
		CandlesReceived:    atomic.LoadInt64(&m.candlesReceived),
		AvgFetchTime:       avgFetchTime,
		MaxFetchTime:       time.Duration(atomic.LoadInt64(&m.maxFetchTime)),
		Elapsed:            elapsed,
	}
}

// Reset resets all metrics
func (m *RunMetrics) Reset() {
	atomic.StoreInt64(&m.historyFetches, 0)
	atomic.StoreInt64(&m.historyFailures, 0)
	atomic.StoreInt64(&m.rateLimitHits, 0)
	atomic.StoreInt64(&m.recordsRefreshed, 0)
	atomic.StoreInt64(&m.skippedFresh, 0)
	atomic.StoreInt64(&m.skippedRateLimited, 0)
	atomic.StoreInt64(&m.anomaliesExcluded, 0)
	atomic.StoreInt64(&m.candlesReceived, 0)
	atomic.StoreInt64(&m.totalFetchTime, 0)
	atomic.StoreInt64(&m.maxFetchTime, 0)
	atomic.StoreInt64(&m.fetchCount, 0)

	m.mutex.Lock()
	m.startTime = time.Now()
	m.mutex.Unlock()
}

// Metrics returns the snapshot as a flat list of named metrics
func (s Snapshot) Metrics() []Metric {
	return []Metric{
		{"history_fetches_total", MetricTypeCounter, float64(s.HistoryFetches), "History requests that completed"},
		{"history_failures_total", MetricTypeCounter, float64(s.HistoryFailures), "History requests that failed fatally"},
		{"rate_limit_hits_total", MetricTypeCounter, float64(s.RateLimitHits), "History requests that were rate limited"},
		{"records_refreshed_total", MetricTypeCounter, float64(s.RecordsRefreshed), "Records with recomputed statistics"},
		{"records_skipped_fresh_total", MetricTypeCounter, float64(s.SkippedFresh), "Records skipped because they were fresh"},
		{"records_skipped_rate_limited_total", MetricTypeCounter, float64(s.SkippedRateLimited), "Stale records skipped after rate limiting"},
		{"anomalies_excluded_total", MetricTypeCounter, float64(s.AnomaliesExcluded), "Candles excluded by the anomaly filter"},
		{"candles_received_total", MetricTypeCounter, float64(s.CandlesReceived), "Candles received from history requests"},
		{"fetch_time_avg_seconds", MetricTypeGauge, s.AvgFetchTime.Seconds(), "Average history request latency"},
		{"fetch_time_max_seconds", MetricTypeGauge, s.MaxFetchTime.Seconds(), "Slowest history request latency"},
	}
}

// LogValue implements slog.LogValuer.
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("history_fetches", s.HistoryFetches),
		slog.Int64("history_failures", s.HistoryFailures),
		slog.Int64("rate_limit_hits", s.RateLimitHits),
		slog.Int64("refreshed", s.RecordsRefreshed),
		slog.Int64("skipped_fresh", s.SkippedFresh),
		slog.Int64("skipped_rate_limited", s.SkippedRateLimited),
		slog.Int64("anomalies_excluded", s.AnomaliesExcluded),
		slog.Int64("candles_received", s.CandlesReceived),
		slog.Duration("avg_fetch_time", s.AvgFetchTime),
		slog.Duration("max_fetch_time", s.MaxFetchTime),
		slog.Duration("elapsed", s.Elapsed),
	)
}
