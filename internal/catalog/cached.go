package catalog

import (
	"context"
	"time"

	"github.com/asklens/asklens/pkg/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore is a read-through cache in front of another Store. Entries
// expire after the configured TTL so catalog edits become visible without a
// restart. A zero TTL means no caching; callers should use the inner store
// directly in that case.
type CachedStore struct {
	inner    Store
	datasets *expirable.LRU[string, *models.DatasetInfo]
	fields   *expirable.LRU[string, []models.FieldCatalogEntry]
}

// NewCachedStore wraps inner with an expirable LRU.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner:    inner,
		datasets: expirable.NewLRU[string, *models.DatasetInfo](256, nil, ttl),
		fields:   expirable.NewLRU[string, []models.FieldCatalogEntry](256, nil, ttl),
	}
}

func (c *CachedStore) GetDataset(ctx context.Context, name string) (*models.DatasetInfo, error) {
	if info, ok := c.datasets.Get(name); ok {
		cp := *info
		return &cp, nil
	}
	info, err := c.inner.GetDataset(ctx, name)
	if err != nil {
		return nil, err
	}
	c.datasets.Add(name, info)
	cp := *info
	return &cp, nil
}

func (c *CachedStore) ListFields(ctx context.Context, dataset string) ([]models.FieldCatalogEntry, error) {
	if entries, ok := c.fields.Get(dataset); ok {
		return append([]models.FieldCatalogEntry(nil), entries...), nil
	}
	entries, err := c.inner.ListFields(ctx, dataset)
	if err != nil {
		return nil, err
	}
	c.fields.Add(dataset, entries)
	return append([]models.FieldCatalogEntry(nil), entries...), nil
}

// ListDatasets always reads through; it is only used for schema prompts.
func (c *CachedStore) ListDatasets(ctx context.Context) ([]models.DatasetInfo, error) {
	return c.inner.ListDatasets(ctx)
}
