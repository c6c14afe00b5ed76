// Package stats computes the trailing-window price statistics for a material.
//
// All arithmetic is done with shopspring/decimal so that averages and sums of
// upstream float prices round the same way on every run. Results are returned as
// null.Float: an invalid value means the window had no data.
package stats

import (
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// Precision is the number of decimal places persisted statistics are rounded to.
const Precision int32 = 2

// Window is a set of candles belonging to one trailing window.
type Window []models.CandleEntry

// TWAP returns the mean of each candle's typical price (the average of open, close,
// high and low). An empty window yields null.
func TWAP(w Window) null.Float {
	if len(w) == 0 {
		return null.Float{}
	}
	sum := decimal.Zero
	for _, c := range w {
		sum = sum.Add(c.TypicalPrice())
	}
	return toNull(sum.Div(decimal.NewFromInt(int64(len(w)))))
}

// VWAP returns the typical price weighted by traded volume. An empty window, or one
// with no traded volume at all, yields null.
func VWAP(w Window) null.Float {
	if len(w) == 0 {
		return null.Float{}
	}
	weighted := decimal.Zero
	volume := decimal.Zero
	for _, c := range w {
		traded := c.TradedDecimal()
		weighted = weighted.Add(c.TypicalPrice().Mul(traded))
		volume = volume.Add(traded)
	}
	if volume.IsZero() {
		return null.Float{}
	}
	return toNull(weighted.Div(volume))
}

// TotalTraded returns the summed traded volume of the window. An empty window
// yields null.
func TotalTraded(w Window) null.Float {
	if len(w) == 0 {
		return null.Float{}
	}
	return toNull(sumTraded(w))
}

// AverageTraded spreads the window's traded volume over days calendar days, so that
// days without a candle count as zero. An empty window yields null.
func AverageTraded(w Window, days int) null.Float {
	if len(w) == 0 || days <= 0 {
		return null.Float{}
	}
	return toNull(sumTraded(w).Div(decimal.NewFromInt(int64(days))))
}

// Round rounds a valid value to Precision decimal places. Null passes through.
func Round(v null.Float) null.Float {
	if !v.Valid {
		return v
	}
	d := decimal.NewFromFloat(v.Float64)
	if d.IsZero() {
		return v
	}
	f, _ := d.Round(Precision).Float64()
	return null.FloatFrom(f)
}

func sumTraded(w Window) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range w {
		sum = sum.Add(c.TradedDecimal())
	}
	return sum
}

func toNull(d decimal.Decimal) null.Float {
	f, _ := d.Float64()
	return null.FloatFrom(f)
}
