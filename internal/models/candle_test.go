package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func candleAt(interval string, at time.Time, open float64) CandleEntry {
	return CandleEntry{
		Interval:    interval,
		DateEpochMs: at.UnixMilli(),
		Open:        open,
		Close:       open,
		High:        open,
		Low:         open,
		Traded:      1,
	}
}

func TestCandleEntry_Decode(t *testing.T) {
	payload := `{"Interval":"DAY_ONE","DateEpochMs":1710072000000,"Open":10,"Close":12,"High":13,"Low":9,"Volume":1100,"Traded":100}`

	var c CandleEntry
	require.NoError(t, json.Unmarshal([]byte(payload), &c))

	assert.Equal(t, IntervalDayOne, c.Interval)
	assert.Equal(t, testTime, c.Time())
	assert.Equal(t, 10.0, c.Open)
	assert.Equal(t, 12.0, c.Close)
	assert.Equal(t, 13.0, c.High)
	assert.Equal(t, 9.0, c.Low)
	assert.Equal(t, 100.0, c.Traded)
}

func TestCandleEntry_TypicalPrice(t *testing.T) {
	tests := []struct {
		name     string
		candle   CandleEntry
		expected string
	}{
		{
			name:     "mean of the four prices",
			candle:   CandleEntry{Open: 10, Close: 12, High: 13, Low: 9},
			expected: "11",
		},
		{
			name:     "fractional result",
			candle:   CandleEntry{Open: 1, Close: 2, High: 2, Low: 1},
			expected: "1.5",
		},
		{
			name:     "float inputs do not drift",
			candle:   CandleEntry{Open: 0.1, Close: 0.2, High: 0.3, Low: 0.2},
			expected: "0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(tt.candle.TypicalPrice()),
				"got %s", tt.candle.TypicalPrice())
		})
	}
}

func TestCandleEntry_String(t *testing.T) {
	c := CandleEntry{Interval: IntervalDayOne, DateEpochMs: testTime.UnixMilli(), Open: 10, Close: 12, High: 13, Low: 9, Traded: 100}
	s := c.String()
	assert.Contains(t, s, "DAY_ONE")
	assert.Contains(t, s, "2024-03-10T12:00:00Z")
	assert.Contains(t, s, "T: 100")
}

func TestGroupByInterval(t *testing.T) {
	entries := []CandleEntry{
		candleAt(IntervalDayOne, testTime.Add(-72*time.Hour), 1),
		candleAt(IntervalHourOne, testTime.Add(-time.Hour), 2),
		candleAt(IntervalDayOne, testTime.Add(-24*time.Hour), 3),
		candleAt(IntervalDayOne, testTime.Add(-72*time.Hour), 4),
		candleAt(IntervalDayOne, testTime.Add(-48*time.Hour), 5),
	}

	groups := GroupByInterval(entries)
	require.Len(t, groups, 2)

	day := groups[IntervalDayOne]
	require.Len(t, day, 4)
	opens := make([]float64, len(day))
	for i, c := range day {
		opens[i] = c.Open
	}
	assert.Equal(t, []float64{3, 5, 1, 4}, opens, "newest first, ties keep upstream order")

	assert.Len(t, groups[IntervalHourOne], 1)
	assert.Empty(t, groups[IntervalDayThree])
	assert.Empty(t, GroupByInterval(nil))
}
