package internal

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

// ErrGenerationChanged is returned by ColumnCache.Insert when the cache was invalidated
// after the caller read its generation.
var ErrGenerationChanged = errors.New("column cache generation changed")

// ColumnCache holds per-column metadata keyed by (relation, attnum). Any attribute
// catalog change empties the whole cache; the next resolution of a relation rebuilds it.
type ColumnCache struct {
	mu          sync.RWMutex
	entries     map[chfdw.ColumnKey]chfdw.ColumnMetadata
	generation  uuid.UUID
	sizeHint    int
	unsubscribe func()
}

// NewColumnCache creates the cache and subscribes it to attribute catalog changes.
// notifier may be nil when the host never changes its catalogs (tests, one-shot tools).
func NewColumnCache(notifier chfdw.ChangeNotifier, sizeHint int) *ColumnCache {
	c := &ColumnCache{
		entries:    make(map[chfdw.ColumnKey]chfdw.ColumnMetadata, sizeHint),
		generation: uuid.New(),
		sizeHint:   sizeHint,
	}
	if notifier != nil {
		c.unsubscribe = notifier.Subscribe(chfdw.CacheAttNum, c.handleCatalogChange)
	}
	return c
}

func (c *ColumnCache) handleCatalogChange(_ context.Context, change chfdw.CatalogChange) error {
	zap.S().Debugw("attribute catalog changed, invalidating column cache",
		"relid", change.RelationID, "command", change.Command)
	return c.InvalidateAll()
}

// Lookup returns the metadata of a column if it has been resolved in this generation.
func (c *ColumnCache) Lookup(relID chfdw.Oid, attnum chfdw.AttrNumber) (chfdw.ColumnMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.entries[chfdw.ColumnKey{RelationID: relID, AttrNumber: attnum}]
	return meta, ok
}

// Contains reports whether a column has been resolved in this generation.
func (c *ColumnCache) Contains(relID chfdw.Oid, attnum chfdw.AttrNumber) bool {
	_, ok := c.Lookup(relID, attnum)
	return ok
}

// Insert stores meta if the cache is still at generation, the value of Generation read
// before meta was built from the catalogs. It returns false and keeps the existing entry
// when the key is already present, and ErrGenerationChanged when an invalidation ran in
// between.
func (c *ColumnCache) Insert(meta chfdw.ColumnMetadata, generation uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false, ErrGenerationChanged
	}
	key := meta.Key()
	if _, ok := c.entries[key]; ok {
		return false, nil
	}
	c.entries[key] = meta
	return true, nil
}

// InvalidateAll removes every entry and starts a new generation. A failed removal means
// the cache is corrupted: the map is discarded and an internal error is returned so the
// triggering operation aborts.
func (c *ColumnCache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]chfdw.ColumnKey, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}

	for _, key := range keys {
		if _, ok := c.entries[key]; !ok {
			return c.corrupted(key)
		}
		delete(c.entries, key)
	}
	if len(c.entries) != 0 {
		return c.corrupted(chfdw.ColumnKey{})
	}

	previous := c.generation
	c.generation = uuid.New()
	zap.S().Infow("column cache invalidated",
		"entries_removed", len(keys),
		"previous_generation", previous.String(),
		"generation", c.generation.String())
	return nil
}

// corrupted must be called with c.mu held.
func (c *ColumnCache) corrupted(key chfdw.ColumnKey) error {
	zap.S().Errorw("column cache corrupted during invalidation",
		"relid", key.RelationID, "attnum", key.AttrNumber, "generation", c.generation.String())
	c.entries = make(map[chfdw.ColumnKey]chfdw.ColumnMetadata, c.sizeHint)
	c.generation = uuid.New()
	return chfdw.NewInternalError(chfdw.ErrCodeCacheCorrupted, "column cache corrupted", nil).
		WithRelation(key.RelationID).
		WithDetail("attnum", key.AttrNumber)
}

// Generation identifies the current cache contents; it changes on every invalidation.
func (c *ColumnCache) Generation() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len returns the number of cached columns.
func (c *ColumnCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SnapshotWithGeneration returns a copy of all entries together with the generation
// they belong to.
func (c *ColumnCache) SnapshotWithGeneration() ([]chfdw.ColumnMetadata, uuid.UUID) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chfdw.ColumnMetadata, 0, len(c.entries))
	for _, meta := range c.entries {
		out = append(out, meta)
	}
	return out, c.generation
}

// Close detaches the cache from the change notifier.
func (c *ColumnCache) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}
