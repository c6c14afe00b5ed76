package refresh

import (
	"github.com/guregu/null/v6"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
	"github.com/johnayoung/go-cx-pricefeed/internal/stats"
	"github.com/johnayoung/go-cx-pricefeed/internal/validator"
	"github.com/johnayoung/go-cx-pricefeed/internal/window"
)

// Trailing window lengths in days, also the divisors of the average traded volume.
const (
	shortWindowDays = 7
	longWindowDays  = 30
)

// ApplyResult reports what ApplyHistory did with a candle series.
type ApplyResult struct {
	// Candles is the number of candles of the primary interval.
	Candles int

	// Excluded counts anomalous candles dropped from the 7 and 30 day windows. A candle
	// in both windows is counted twice.
	Excluded int

	// HasYesterday reports whether a candle in the 24 to 48 hour band was found.
	HasYesterday bool
}

// ApplyHistory recomputes record's statistics from a history series and stamps the
// record with the classifier's reference instant.
//
// Only candles of the given interval are used, newest first. Yesterday's values come
// from the newest candle in the 24 to 48 hour band and are stored as reported. The 7 and
// 30 day windows drop anomalous candles before aggregation, and their statistics are
// rounded. A window left empty yields null statistics.
func ApplyHistory(
	record *models.PriceRecord,
	entries []models.CandleEntry,
	interval string,
	classifier window.Classifier,
	filter *validator.AnomalyFilter,
) ApplyResult {
	series := models.GroupByInterval(entries)[interval]
	result := ApplyResult{Candles: len(series)}

	var yesterday *models.CandleEntry
	var last7, last30 []models.CandleEntry
	for i := range series {
		candle := series[i]
		if yesterday == nil && classifier.Last48To24h(candle.DateEpochMs) {
			yesterday = &series[i]
		}
		if classifier.Last7Days(candle.DateEpochMs) {
			last7 = append(last7, candle)
		}
		if classifier.Last30Days(candle.DateEpochMs) {
			last30 = append(last30, candle)
		}
	}

	short := filter.Filter(last7)
	long := filter.Filter(last30)
	result.Excluded = len(short.Excluded) + len(long.Excluded)

	s := &record.Statistics
	*s = models.Statistics{}

	if yesterday != nil {
		result.HasYesterday = true
		s.OpenYesterday = null.FloatFrom(yesterday.Open)
		s.CloseYesterday = null.FloatFrom(yesterday.Close)
		s.HighYesterday = null.FloatFrom(yesterday.High)
		s.LowYesterday = null.FloatFrom(yesterday.Low)
		s.TradedYesterday = null.FloatFrom(yesterday.Traded)
	}

	w7 := stats.Window(short.Kept)
	s.TWAP7D = stats.Round(stats.TWAP(w7))
	s.VWAP7D = stats.Round(stats.VWAP(w7))
	s.Traded7D = stats.Round(stats.TotalTraded(w7))
	s.AverageTraded7D = stats.Round(stats.AverageTraded(w7, shortWindowDays))

	w30 := stats.Window(long.Kept)
	s.TWAP30D = stats.Round(stats.TWAP(w30))
	s.VWAP30D = stats.Round(stats.VWAP(w30))
	s.Traded30D = stats.Round(stats.TotalTraded(w30))
	s.AverageTraded30D = stats.Round(stats.AverageTraded(w30, longWindowDays))

	record.Stamp(classifier.Now())
	return result
}
