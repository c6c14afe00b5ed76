package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

func expectedHeader(listingKeys ...string) string {
	keys := append(listingKeys, models.FieldFullTicker)
	keys = append(keys, models.StatisticNames()...)
	return strings.Join(keys, ",")
}

func TestRenderCSV(t *testing.T) {
	t.Run("empty set renders nothing", func(t *testing.T) {
		out, err := RenderCSV(nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("header follows first record without Timestamp", func(t *testing.T) {
		out, err := RenderCSV(createTestRecords(t))
		require.NoError(t, err)

		lines := strings.Split(out, "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, expectedHeader("MaterialTicker", "ExchangeCode", "MaterialName", "Ask", "Bid"), lines[0])
		assert.NotContains(t, lines[0], "Timestamp")
		assert.False(t, strings.HasSuffix(out, "\n"))
	})

	t.Run("cells", func(t *testing.T) {
		out, err := RenderCSV(createTestRecords(t))
		require.NoError(t, err)
		lines := strings.Split(out, "\n")

		rat := strings.Split(lines[1], ",")
		header := strings.Split(lines[0], ",")
		require.Len(t, rat, len(header))

		cell := func(row []string, key string) string {
			for i, name := range header {
				if name == key {
					return row[i]
				}
			}
			t.Fatalf("column %s not found", key)
			return ""
		}

		assert.Equal(t, `"RAT"`, cell(rat, "MaterialTicker"))
		assert.Equal(t, `"basicRations"`, cell(rat, "MaterialName"))
		assert.Equal(t, "42.46", cell(rat, "Ask"), "numbers are rounded")
		assert.Equal(t, "", cell(rat, "Bid"), "null renders as empty cell")
		assert.Equal(t, `"RAT.AI1"`, cell(rat, "FullTicker"))
		assert.Equal(t, "10", cell(rat, "OpenYesterday"))
		assert.Equal(t, "14.29", cell(rat, "TWAP7D"))
		assert.Equal(t, "3.33", cell(rat, "AverageTraded30D"))
		assert.Equal(t, "", cell(rat, "VWAP7D"))

		// DW has no MaterialName or Bid, and an extra Currency column that is not in the header.
		dw := strings.Split(lines[2], ",")
		require.Len(t, dw, len(header))
		assert.Equal(t, "", cell(dw, "MaterialName"))
		assert.Equal(t, "", cell(dw, "Bid"))
		assert.Equal(t, "18", cell(dw, "Ask"))
		assert.NotContains(t, lines[2], "NCC")
	})

	t.Run("zero and negative numbers", func(t *testing.T) {
		record := createTestRecord(t, "MaterialTicker", "X", "ExchangeCode", "Y", "A", 0, "B", -3.14159)
		record.Statistics.Traded7D = null.FloatFrom(0)

		out, err := RenderCSV([]*models.PriceRecord{record})
		require.NoError(t, err)
		row := strings.Split(strings.Split(out, "\n")[1], ",")
		assert.Equal(t, "0", row[2])
		assert.Equal(t, "-3.14", row[3])
	})

	t.Run("non-scalar values are compacted", func(t *testing.T) {
		record := createTestRecord(t, "MaterialTicker", "X", "ExchangeCode", "Y", "Flag", true, "Tags", []string{"a"})

		out, err := RenderCSV([]*models.PriceRecord{record})
		require.NoError(t, err)
		row := strings.Split(out, "\n")[1]
		assert.True(t, strings.HasPrefix(row, `"X","Y",true,["a"],"X.Y"`), row)
	})
}

func TestCSVExporter(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "all.csv")
	exporter := NewCSVExporter(path, createTestLogger())
	assert.Equal(t, path, exporter.Path())

	records := createTestRecords(t)
	require.NoError(t, exporter.Export(ctx, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	expected, err := RenderCSV(records)
	require.NoError(t, err)
	assert.Equal(t, expected, string(data))

	rendered, err := exporter.Render(records)
	require.NoError(t, err)
	assert.Equal(t, expected, string(rendered))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, exporter.Export(cancelled, records), context.Canceled)
	assert.ErrorIs(t, exporter.Write(cancelled, rendered), context.Canceled)

	unwritable := NewCSVExporter(filepath.Join(t.TempDir(), "missing", "all.csv"), createTestLogger())
	var storageErr *StorageError
	require.ErrorAs(t, unwritable.Write(ctx, rendered), &storageErr)
	assert.Equal(t, "export", storageErr.Operation)
}
