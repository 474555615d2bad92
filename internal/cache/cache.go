package cache

import (
	"context"
	"time"

	"apotekpos/backend/internal/domain"
)

// CatalogCache fronts the medicine list for the catalog endpoint. The
// store stays the source of truth; writes invalidate, never update.
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.Medicine, bool, error)
	Set(ctx context.Context, key string, value []domain.Medicine, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.Medicine, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.Medicine, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
