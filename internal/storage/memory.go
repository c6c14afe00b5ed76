package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// MemoryStore provides an in-memory implementation of DatasetStore and Exporter.
// Records are held in their serialized form so callers can never mutate stored data.
type MemoryStore struct {
	mu sync.RWMutex

	dataset []byte
	csv     string

	saves   int
	exports int

	loadErr   error
	saveErr   error
	exportErr error
}

// NewMemoryStore creates a store holding records.
func NewMemoryStore(records []*models.PriceRecord) (*MemoryStore, error) {
	data, err := EncodeDataset(records)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{dataset: data}, nil
}

// Load implements DatasetStore.Load.
func (m *MemoryStore) Load(ctx context.Context) ([]*models.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("load", "memory", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.loadErr != nil {
		return nil, NewStorageError("load", "memory", m.loadErr)
	}
	if m.dataset == nil {
		return nil, NewStorageError("load", "memory", errors.New("dataset not found"))
	}
	return DecodeDataset(m.dataset)
}

// Save implements DatasetStore.Save.
func (m *MemoryStore) Save(ctx context.Context, records []*models.PriceRecord) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("save", "memory", err)
	}

	data, err := EncodeDataset(records)
	if err != nil {
		return NewStorageError("save", "memory", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return NewStorageError("save", "memory", m.saveErr)
	}
	m.dataset = data
	m.saves++
	return nil
}

// Render implements Exporter.Render.
func (m *MemoryStore) Render(records []*models.PriceRecord) ([]byte, error) {
	out, err := RenderCSV(records)
	if err != nil {
		return nil, NewStorageError("render", "memory", err)
	}
	return []byte(out), nil
}

// Write implements Exporter.Write.
func (m *MemoryStore) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("export", "memory", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exportErr != nil {
		return NewStorageError("export", "memory", m.exportErr)
	}
	m.csv = string(data)
	m.exports++
	return nil
}

// Dataset returns the last saved dataset bytes.
func (m *MemoryStore) Dataset() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.dataset...)
}

// CSV returns the last exported CSV.
func (m *MemoryStore) CSV() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.csv
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Exports returns how many times Write succeeded.
func (m *MemoryStore) Exports() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exports
}

// FailLoad makes subsequent loads fail with err; nil clears the failure.
func (m *MemoryStore) FailLoad(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// FailSave makes subsequent saves fail with err; nil clears the failure.
func (m *MemoryStore) FailSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailExport makes subsequent export writes fail with err; nil clears the failure.
func (m *MemoryStore) FailExport(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportErr = err
}
