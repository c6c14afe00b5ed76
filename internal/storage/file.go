package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

const filePerm = 0o644

// FileStore persists the record set as a pretty-printed JSON array.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store backed by the JSON file at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the dataset file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements DatasetStore.Load. A missing or unparseable file is an error;
// there is no implicit empty dataset.
func (s *FileStore) Load(ctx context.Context) ([]*models.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("load", s.path, err)
	}

	start := time.Now()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewStorageError("load", s.path,
				fmt.Errorf("dataset not found (initialize it with an empty JSON array): %w", err))
		}
		return nil, NewStorageError("load", s.path, err)
	}

	records, err := DecodeDataset(data)
	if err != nil {
		return nil, NewStorageError("load", s.path, err)
	}

	s.logger.Debug("loaded dataset",
		"path", s.path,
		"records", len(records),
		"duration", time.Since(start))

	return records, nil
}

// Save implements DatasetStore.Save.
func (s *FileStore) Save(ctx context.Context, records []*models.PriceRecord) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("save", s.path, err)
	}

	data, err := EncodeDataset(records)
	if err != nil {
		return NewStorageError("save", s.path, err)
	}
	if err := writeFileAtomic(s.path, data, filePerm); err != nil {
		return NewStorageError("save", s.path, err)
	}

	s.logger.Debug("saved dataset", "path", s.path, "records", len(records), "bytes", len(data))
	return nil
}

// DecodeDataset parses a JSON array of price records. A JSON null decodes to an
// empty set; any other non-array is an error.
func DecodeDataset(data []byte) ([]*models.PriceRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("dataset is empty")
	}

	var records []*models.PriceRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}

	kept := records[:0]
	for i, record := range records {
		if record == nil {
			return nil, fmt.Errorf("parse dataset: record %d is null", i)
		}
		kept = append(kept, record)
	}
	if kept == nil {
		kept = []*models.PriceRecord{}
	}
	return kept, nil
}

// EncodeDataset renders records as a JSON array indented with two spaces. Key order
// follows each record's insertion order and HTML characters are not escaped.
func EncodeDataset(records []*models.PriceRecord) ([]byte, error) {
	if records == nil {
		records = []*models.PriceRecord{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
