// Package catalog provides the field catalog: the per-dataset registry of
// queryable fields the report compiler resolves against. The catalog is
// consumed read-only; entries are loaded fresh per request unless a cache
// TTL is configured.
package catalog

import (
	"context"

	"github.com/asklens/asklens/pkg/models"
)

// Store is the read interface the compiler and SQL generator depend on.
// Implementations: PostgresStore (production) and MemoryStore (dev, tests).
type Store interface {
	// GetDataset returns dataset-level flags (time-series, date field).
	GetDataset(ctx context.Context, name string) (*models.DatasetInfo, error)

	// ListFields returns all catalog entries of a dataset.
	ListFields(ctx context.Context, dataset string) ([]models.FieldCatalogEntry, error)

	// ListDatasets returns all known datasets, for schema prompt building.
	ListDatasets(ctx context.Context) ([]models.DatasetInfo, error)
}

// ErrNotFound is returned when a dataset is absent from the catalog.
type ErrNotFound struct {
	Dataset string
}

func (e *ErrNotFound) Error() string {
	return "dataset not found in catalog: " + e.Dataset
}
