package cache

import (
	"context"
	"fmt"
	"time"

	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
)

type lineageCacheKey struct{}

// WithLineageCacheContext returns a new context carrying the given LineageCache.
func WithLineageCacheContext(ctx context.Context, c LineageCache) context.Context {
	return context.WithValue(ctx, lineageCacheKey{}, c)
}

// LineageCacheFromContext retrieves the LineageCache from the context.
// Returns nil if none was set.
func LineageCacheFromContext(ctx context.Context) LineageCache {
	c, _ := ctx.Value(lineageCacheKey{}).(LineageCache)
	return c
}

// LineageCache caches root-to-leaf lineage reads, keyed by
// (conversation_id, message_id). Even a single-partition read has a cost on
// repeat lookups of the same leaf (e.g. a branch's tip, polled by a client),
// which a cache removes entirely.
type LineageCache interface {
	Available() bool
	Get(ctx context.Context, conversationID, messageID uuid.UUID) (*registrystore.MessageLineage, error)
	Set(ctx context.Context, conversationID, messageID uuid.UUID, lineage registrystore.MessageLineage, ttl time.Duration) error
	// Invalidate drops a cached lineage, used when a branch advances past
	// a previously cached leaf.
	Invalidate(ctx context.Context, conversationID, messageID uuid.UUID) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (LineageCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
