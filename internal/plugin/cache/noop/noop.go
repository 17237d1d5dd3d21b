package noop

import (
	"context"
	"time"

	"github.com/chirino/conversation-tree/internal/registry/cache"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.LineageCache, error) {
			return &noopLineageCache{}, nil
		},
	})
}

type noopLineageCache struct{}

func (n *noopLineageCache) Available() bool { return false }
func (n *noopLineageCache) Get(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*registrystore.MessageLineage, error) {
	return nil, nil
}
func (n *noopLineageCache) Set(_ context.Context, _ uuid.UUID, _ uuid.UUID, _ registrystore.MessageLineage, _ time.Duration) error {
	return nil
}
func (n *noopLineageCache) Invalidate(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }

var _ cache.LineageCache = (*noopLineageCache)(nil)
