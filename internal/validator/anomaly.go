// Package validator provides candle anomaly detection for the price feed.
//
// Multi-day statistics are only as good as the candles they are built from. A single
// bad tick with an absurd high or low, or a candle with no trades at all, would skew
// a 7 or 30 day average for weeks. AnomalyFilter flags such candles so they can be
// excluded before aggregation.
package validator

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// DefaultDeviationFactor is how far the high or low may stray from the open/close
// range before a candle is considered a bad tick.
const DefaultDeviationFactor = 10.0

// AnomalyReason names why a candle was flagged.
type AnomalyReason string

const (
	ReasonNone        AnomalyReason = ""
	ReasonZeroVolume  AnomalyReason = "zero_volume"  // no units traded during the candle
	ReasonHighOutlier AnomalyReason = "high_outlier" // high above factor x max(open, close)
	ReasonLowOutlier  AnomalyReason = "low_outlier"  // low below min(open, close) / factor
)

// FilterResult is the outcome of filtering a candle window.
type FilterResult struct {
	Kept     []models.CandleEntry
	Excluded []models.CandleEntry
}

// AnomalyFilter flags candles with zero volume or extreme high/low deviations.
type AnomalyFilter struct {
	factor decimal.Decimal
	logger *slog.Logger
}

// NewAnomalyFilter creates a filter with the default deviation factor.
func NewAnomalyFilter(logger *slog.Logger) *AnomalyFilter {
	return NewAnomalyFilterWithFactor(DefaultDeviationFactor, logger)
}

// NewAnomalyFilterWithFactor creates a filter with a custom deviation factor.
// Factors not greater than one fall back to the default.
func NewAnomalyFilterWithFactor(factor float64, logger *slog.Logger) *AnomalyFilter {
	if logger == nil {
		logger = slog.Default()
	}
	if factor <= 1 {
		factor = DefaultDeviationFactor
	}

	return &AnomalyFilter{
		factor: decimal.NewFromFloat(factor),
		logger: logger.With("component", "anomaly_filter"),
	}
}

// Factor returns the configured deviation factor.
func (f *AnomalyFilter) Factor() float64 {
	v, _ := f.factor.Float64()
	return v
}

// Check returns the reason a candle is anomalous, or ReasonNone.
// Comparisons are strict: a high of exactly factor x max(open, close) is kept.
func (f *AnomalyFilter) Check(c models.CandleEntry) AnomalyReason {
	if c.TradedDecimal().IsZero() {
		return ReasonZeroVolume
	}

	open, closePrice := c.OpenDecimal(), c.CloseDecimal()
	upper := decimal.Max(open, closePrice)
	lower := decimal.Min(open, closePrice)

	if c.HighDecimal().GreaterThan(upper.Mul(f.factor)) {
		return ReasonHighOutlier
	}
	if c.LowDecimal().LessThan(lower.Div(f.factor)) {
		return ReasonLowOutlier
	}
	return ReasonNone
}

// IsAnomalous reports whether the candle should be excluded from aggregation.
func (f *AnomalyFilter) IsAnomalous(c models.CandleEntry) bool {
	return f.Check(c) != ReasonNone
}

// Filter splits entries into kept and excluded candles, preserving order.
func (f *AnomalyFilter) Filter(entries []models.CandleEntry) FilterResult {
	result := FilterResult{Kept: make([]models.CandleEntry, 0, len(entries))}

	for _, entry := range entries {
		reason := f.Check(entry)
		if reason == ReasonNone {
			result.Kept = append(result.Kept, entry)
			continue
		}

		f.logger.Debug("Excluding anomalous candle",
			"reason", string(reason),
			"interval", entry.Interval,
			"time", entry.Time(),
			"open", entry.Open,
			"close", entry.Close,
			"high", entry.High,
			"low", entry.Low,
			"traded", entry.Traded)
		result.Excluded = append(result.Excluded, entry)
	}

	return result
}
