// Package catalog — in-memory Store implementation.
// Used when PostgreSQL is not available (local dev, tests).
package catalog

import (
	"context"
	"sync"

	"github.com/asklens/asklens/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]*models.DatasetInfo
	fields   map[string][]models.FieldCatalogEntry // key: dataset name
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		datasets: make(map[string]*models.DatasetInfo),
		fields:   make(map[string][]models.FieldCatalogEntry),
	}
}

// RegisterDataset adds or replaces a dataset and its field entries.
func (m *MemoryStore) RegisterDataset(info models.DatasetInfo, entries []models.FieldCatalogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := info
	m.datasets[info.Name] = &cp
	m.fields[info.Name] = append([]models.FieldCatalogEntry(nil), entries...)
}

func (m *MemoryStore) GetDataset(ctx context.Context, name string) (*models.DatasetInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.datasets[name]
	if !ok {
		return nil, &ErrNotFound{Dataset: name}
	}
	cp := *info
	return &cp, nil
}

func (m *MemoryStore) ListFields(ctx context.Context, dataset string) ([]models.FieldCatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.fields[dataset]
	if !ok {
		return nil, &ErrNotFound{Dataset: dataset}
	}
	return append([]models.FieldCatalogEntry(nil), entries...), nil
}

func (m *MemoryStore) ListDatasets(ctx context.Context) ([]models.DatasetInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DatasetInfo, 0, len(m.datasets))
	for _, info := range m.datasets {
		out = append(out, *info)
	}
	return out, nil
}
