// Package models provides data structures for commodity exchange price data.
// This package contains the persisted price record, the upstream listing entry,
// historical candle entries and the per-run summary.
package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Interval labels reported by the upstream price chart endpoint.
const (
	IntervalMinuteFive    = "MINUTE_FIVE"
	IntervalMinuteFifteen = "MINUTE_FIFTEEN"
	IntervalMinuteThirty  = "MINUTE_THIRTY"
	IntervalHourOne       = "HOUR_ONE"
	IntervalHourTwo       = "HOUR_TWO"
	IntervalHourFour      = "HOUR_FOUR"
	IntervalHourSix       = "HOUR_SIX"
	IntervalHourTwelve    = "HOUR_TWELVE"
	IntervalDayOne        = "DAY_ONE"
	IntervalDayThree      = "DAY_THREE"
)

// CandleEntry is one historical observation from the upstream per-ticker price chart.
// Prices and traded volume are reported as JSON numbers.
type CandleEntry struct {
	Interval    string  `json:"Interval"`
	DateEpochMs int64   `json:"DateEpochMs"`
	Open        float64 `json:"Open"`
	Close       float64 `json:"Close"`
	High        float64 `json:"High"`
	Low         float64 `json:"Low"`
	Traded      float64 `json:"Traded"`
}

// Time returns the candle start as a UTC time.
func (c CandleEntry) Time() time.Time {
	return time.UnixMilli(c.DateEpochMs).UTC()
}

// OpenDecimal returns the open price as a decimal.Decimal for precise calculations.
func (c CandleEntry) OpenDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Open)
}

// CloseDecimal returns the close price as a decimal.Decimal for precise calculations.
func (c CandleEntry) CloseDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Close)
}

// HighDecimal returns the high price as a decimal.Decimal for precise calculations.
func (c CandleEntry) HighDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.High)
}

// LowDecimal returns the low price as a decimal.Decimal for precise calculations.
func (c CandleEntry) LowDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Low)
}

// TradedDecimal returns the traded volume as a decimal.Decimal.
func (c CandleEntry) TradedDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Traded)
}

// TypicalPrice calculates the typical price using the formula: (Open + Close + High + Low) / 4.
// Both TWAP and VWAP are defined over this value.
func (c CandleEntry) TypicalPrice() decimal.Decimal {
	sum := c.OpenDecimal().Add(c.CloseDecimal()).Add(c.HighDecimal()).Add(c.LowDecimal())
	return sum.Div(decimal.NewFromInt(4))
}

// String returns a human-readable string representation of the candle.
func (c CandleEntry) String() string {
	return fmt.Sprintf("Candle{Interval: %s, Time: %s, O: %v, H: %v, L: %v, C: %v, T: %v}",
		c.Interval, c.Time().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Traded)
}

// GroupByInterval groups entries by their interval label and sorts every group
// newest first. Entries sharing a timestamp keep their upstream order.
func GroupByInterval(entries []CandleEntry) map[string][]CandleEntry {
	groups := make(map[string][]CandleEntry)
	for _, entry := range entries {
		groups[entry.Interval] = append(groups[entry.Interval], entry)
	}

	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].DateEpochMs > group[j].DateEpochMs
		})
	}

	return groups
}
