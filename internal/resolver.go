package internal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lychee-technology/chfdw"
)

// Resolver implements chfdw.MetadataResolver. Both caches are created on first use and
// live as long as the resolver; the column cache subscribes to notifier when created.
type Resolver struct {
	catalog  chfdw.Catalog
	notifier chfdw.ChangeNotifier
	cacheCfg chfdw.CacheConfig

	objectsOnce sync.Once
	objects     *ObjectCache
	columnsOnce sync.Once
	columns     atomic.Pointer[ColumnCache]

	classifierOnce sync.Once
	classifier     *ObjectClassifier
	applier        *TableOptionsApplier
}

var _ chfdw.MetadataResolver = (*Resolver)(nil)

// NewResolver creates a resolver over catalog. notifier may be nil.
func NewResolver(catalog chfdw.Catalog, notifier chfdw.ChangeNotifier, cacheCfg chfdw.CacheConfig) *Resolver {
	return &Resolver{
		catalog:  catalog,
		notifier: notifier,
		cacheCfg: cacheCfg,
	}
}

func (r *Resolver) objectCache() *ObjectCache {
	r.objectsOnce.Do(func() {
		r.objects = NewObjectCache(r.cacheCfg.ObjectCacheSize)
	})
	return r.objects
}

func (r *Resolver) columnCache() *ColumnCache {
	r.columnsOnce.Do(func() {
		r.columns.Store(NewColumnCache(r.notifier, r.cacheCfg.ColumnCacheSize))
	})
	return r.columns.Load()
}

func (r *Resolver) init() {
	r.classifierOnce.Do(func() {
		r.classifier = NewObjectClassifier(r.catalog, r.objectCache())
		r.applier = NewTableOptionsApplier(r.catalog, r.classifier, r.columnCache)
	})
}

// ClassifyFunction implements chfdw.MetadataResolver.
func (r *Resolver) ClassifyFunction(ctx context.Context, funcID chfdw.Oid) (chfdw.ClassifiedObject, error) {
	r.init()
	return r.classifier.ClassifyFunction(ctx, funcID)
}

// ClassifyType implements chfdw.MetadataResolver.
func (r *Resolver) ClassifyType(ctx context.Context, typeID chfdw.Oid) (chfdw.ClassifiedObject, error) {
	r.init()
	return r.classifier.ClassifyType(ctx, typeID)
}

// ApplyTableOptions implements chfdw.MetadataResolver.
func (r *Resolver) ApplyTableOptions(ctx context.Context, relID chfdw.Oid, tableOptions chfdw.Options) (chfdw.EngineOptions, error) {
	r.init()
	return r.applier.ApplyTableOptions(ctx, relID, tableOptions)
}

// ResolveRelation reads the foreign table's own options and applies them.
func (r *Resolver) ResolveRelation(ctx context.Context, relID chfdw.Oid) (chfdw.EngineOptions, error) {
	r.init()
	options, err := r.catalog.ForeignTableOptions(ctx, relID)
	if err != nil {
		return chfdw.EngineOptions{}, chfdw.NewCatalogError(
			fmt.Sprintf("failed to read options of foreign table %d", relID), err).WithRelation(relID)
	}
	return r.applier.ApplyTableOptions(ctx, relID, options)
}

// ColumnInfo implements chfdw.MetadataResolver.
func (r *Resolver) ColumnInfo(relID chfdw.Oid, attnum chfdw.AttrNumber) (chfdw.ColumnMetadata, bool) {
	return r.columnCache().Lookup(relID, attnum)
}

// Columns returns every cached column together with the cache generation they belong to.
func (r *Resolver) Columns() ([]chfdw.ColumnMetadata, uuid.UUID) {
	return r.columnCache().SnapshotWithGeneration()
}

// EnsureColumnCache creates the column cache now, subscribing it to the notifier. Callers
// that subscribe their own handlers afterwards see changes only after the cache has been
// invalidated.
func (r *Resolver) EnsureColumnCache() uuid.UUID {
	return r.columnCache().Generation()
}

// Close detaches the column cache from the notifier, if it was created.
func (r *Resolver) Close() {
	if cache := r.columns.Load(); cache != nil {
		cache.Close()
	}
}
