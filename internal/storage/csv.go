package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// CSVPrecision is the number of decimal places numeric cells are rounded to.
const CSVPrecision int32 = 2

// CSVExporter writes the flat tabular export of the record set.
type CSVExporter struct {
	path   string
	logger *slog.Logger
}

// NewCSVExporter creates an exporter writing to path.
func NewCSVExporter(path string, logger *slog.Logger) *CSVExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVExporter{path: path, logger: logger}
}

// Path returns the export file path.
func (e *CSVExporter) Path() string {
	return e.path
}

// Render implements Exporter.Render.
func (e *CSVExporter) Render(records []*models.PriceRecord) ([]byte, error) {
	out, err := RenderCSV(records)
	if err != nil {
		return nil, NewStorageError("render", e.path, err)
	}
	return []byte(out), nil
}

// Write implements Exporter.Write. The file is replaced atomically.
func (e *CSVExporter) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("export", e.path, err)
	}
	if err := writeFileAtomic(e.path, data, filePerm); err != nil {
		return NewStorageError("export", e.path, err)
	}

	e.logger.Debug("exported csv", "path", e.path, "bytes", len(data))
	return nil
}

// Export renders records and writes them in one step.
func (e *CSVExporter) Export(ctx context.Context, records []*models.PriceRecord) error {
	data, err := e.Render(records)
	if err != nil {
		return err
	}
	return e.Write(ctx, data)
}

// RenderCSV renders records as comma-separated rows.
//
// The header is the serialized key set of the first record without Timestamp. Each
// cell is the JSON form of the value under that key: null or missing values are
// empty, numbers are rounded to CSVPrecision places, strings keep their JSON quotes.
// No further quoting or escaping is applied. Rows are joined by "\n" with no
// trailing newline. An empty set renders as an empty string.
func RenderCSV(records []*models.PriceRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	first, err := records[0].OutputFields()
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, first.Len())
	for pair := first.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == models.FieldTimestamp {
			continue
		}
		keys = append(keys, pair.Key)
	}

	rows := make([]string, 0, len(records)+1)
	rows = append(rows, strings.Join(keys, ","))

	cells := make([]string, len(keys))
	for _, record := range records {
		fields, err := record.OutputFields()
		if err != nil {
			return "", err
		}
		for i, key := range keys {
			raw, _ := fields.Get(key)
			cell, err := csvCell(raw)
			if err != nil {
				return "", fmt.Errorf("record %s field %s: %w", record.FullTicker(), key, err)
			}
			cells[i] = cell
		}
		rows = append(rows, strings.Join(cells, ","))
	}

	return strings.Join(rows, "\n"), nil
}

func csvCell(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}

	if isJSONNumber(trimmed) {
		d, err := decimal.NewFromString(string(trimmed))
		if err != nil {
			return "", fmt.Errorf("invalid number %s: %w", trimmed, err)
		}
		return d.Round(CSVPrecision).String(), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isJSONNumber(raw []byte) bool {
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}
