package refresh

import (
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
	"github.com/johnayoung/go-cx-pricefeed/internal/validator"
	"github.com/johnayoung/go-cx-pricefeed/internal/window"
)

func TestApplyHistory(t *testing.T) {
	classifier := window.NewClassifier(referenceTime)
	filter := validator.NewAnomalyFilter(createTestLogger())

	t.Run("newest candle in the yesterday band wins", func(t *testing.T) {
		record := models.NewPriceRecord(listingEntry(t, "RAT", "AI1"))
		entries := []models.CandleEntry{
			dayCandle(47*time.Hour, 1, 1, 1, 1, 1),
			dayCandle(25*time.Hour, 2, 3, 4, 1.5, 5),
			dayCandle(12*time.Hour, 9, 9, 9, 9, 9),
		}

		result := ApplyHistory(record, entries, models.IntervalDayOne, classifier, filter)

		assert.True(t, result.HasYesterday)
		assert.Equal(t, 3, result.Candles)
		assert.Equal(t, null.FloatFrom(2), record.Statistics.OpenYesterday)
		assert.Equal(t, null.FloatFrom(3), record.Statistics.CloseYesterday)
		assert.Equal(t, null.FloatFrom(4), record.Statistics.HighYesterday)
		assert.Equal(t, null.FloatFrom(1.5), record.Statistics.LowYesterday)
		assert.Equal(t, null.FloatFrom(5), record.Statistics.TradedYesterday)
	})

	t.Run("other intervals are ignored", func(t *testing.T) {
		record := models.NewPriceRecord(listingEntry(t, "RAT", "AI1"))
		hourly := dayCandle(36*time.Hour, 10, 12, 13, 9, 100)
		hourly.Interval = models.IntervalHourOne

		result := ApplyHistory(record, []models.CandleEntry{hourly}, models.IntervalDayOne, classifier, filter)

		assert.Zero(t, result.Candles)
		assert.False(t, result.HasYesterday)
		assert.False(t, record.Statistics.TWAP7D.Valid)
		assert.False(t, record.Statistics.OpenYesterday.Valid)
		assert.True(t, record.Timestamp.Valid, "the record is stamped even without data")
	})

	t.Run("windows", func(t *testing.T) {
		record := models.NewPriceRecord(listingEntry(t, "RAT", "AI1"))
		entries := []models.CandleEntry{
			dayCandle(3*24*time.Hour, 10, 10, 10, 10, 10),  // typical 10
			dayCandle(6*24*time.Hour, 20, 20, 20, 20, 30),  // typical 20
			dayCandle(20*24*time.Hour, 40, 40, 40, 40, 60), // 30 day window only
			dayCandle(31*24*time.Hour, 99, 99, 99, 99, 99), // outside both
		}

		ApplyHistory(record, entries, models.IntervalDayOne, classifier, filter)
		s := record.Statistics

		assert.False(t, s.OpenYesterday.Valid, "nothing in the yesterday band")
		assert.Equal(t, null.FloatFrom(15), s.TWAP7D)
		assert.Equal(t, null.FloatFrom(17.5), s.VWAP7D)
		assert.Equal(t, null.FloatFrom(40), s.Traded7D)
		assert.Equal(t, null.FloatFrom(5.71), s.AverageTraded7D)
		assert.Equal(t, null.FloatFrom(23.33), s.TWAP30D)
		assert.Equal(t, null.FloatFrom(31), s.VWAP30D)
		assert.Equal(t, null.FloatFrom(100), s.Traded30D)
		assert.Equal(t, null.FloatFrom(3.33), s.AverageTraded30D)
	})

	t.Run("window of only anomalies is null", func(t *testing.T) {
		record := models.NewPriceRecord(listingEntry(t, "RAT", "AI1"))
		entries := []models.CandleEntry{dayCandle(36*time.Hour, 10, 12, 13, 9, 0)}

		result := ApplyHistory(record, entries, models.IntervalDayOne, classifier, filter)

		assert.Equal(t, 2, result.Excluded)
		assert.False(t, record.Statistics.TWAP7D.Valid)
		assert.False(t, record.Statistics.Traded30D.Valid)
		assert.Equal(t, null.FloatFrom(0), record.Statistics.TradedYesterday, "yesterday is not filtered")
	})

	t.Run("previous statistics are replaced", func(t *testing.T) {
		record := models.NewPriceRecord(listingEntry(t, "RAT", "AI1"))
		record.Statistics.OpenYesterday = null.FloatFrom(123)
		record.Statistics.VWAP30D = null.FloatFrom(456)

		ApplyHistory(record, nil, models.IntervalDayOne, classifier, filter)

		assert.False(t, record.Statistics.OpenYesterday.Valid)
		assert.False(t, record.Statistics.VWAP30D.Valid)
		assert.True(t, record.Timestamp.Time.Equal(referenceTime))
	})
}
