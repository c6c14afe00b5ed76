// Package storage defines the persistence layer for the price record set.
// The record set is persisted as a structured JSON dataset and exported as a flat
// CSV file; every refresh run can additionally be appended to a run journal.
package storage

import (
	"context"
	"fmt"

	"github.com/johnayoung/go-cx-pricefeed/internal/models"
)

// DatasetStore loads and saves the full record set.
type DatasetStore interface {
	// Load returns the persisted records in stored order.
	// Returns an error if the dataset cannot be read or does not parse.
	Load(ctx context.Context) ([]*models.PriceRecord, error)

	// Save replaces the persisted record set with records.
	// The write is all-or-nothing: a failed save leaves the previous dataset intact.
	Save(ctx context.Context, records []*models.PriceRecord) error
}

// Exporter writes a derived, flat representation of the record set. Rendering and
// writing are separate steps so a caller can build the export before committing
// anything else.
type Exporter interface {
	// Render builds the export for records without writing it.
	Render(records []*models.PriceRecord) ([]byte, error)

	// Write replaces the previous export with data.
	Write(ctx context.Context, data []byte) error
}

// Journal keeps a history of refresh runs.
type Journal interface {
	// Record appends the summary of a finished run.
	Record(ctx context.Context, summary *models.RunSummary) error

	// Recent returns up to limit summaries, newest first.
	Recent(ctx context.Context, limit int) ([]models.RunSummary, error)

	// Close releases the journal's resources.
	Close() error
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "load", "save", "export")
	Operation string

	// Path is the file or database involved in the operation
	Path string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage operation %s on %s failed: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, path string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}
