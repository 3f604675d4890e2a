package chfdw

import (
	"context"
)

// Catalog is the read-only view of the host's system catalogs the resolver depends on.
type Catalog interface {
	// IsBuiltin reports whether id ships with the server and can never belong to an extension.
	IsBuiltin(id Oid) bool
	// OwningExtension returns the name of the extension that owns the object, if any.
	OwningExtension(ctx context.Context, class ObjectClass, id Oid) (string, bool, error)
	// FunctionName returns the pg_proc name of a function. A missing function yields an
	// error wrapping ErrNotFound.
	FunctionName(ctx context.Context, id Oid) (string, error)
	ForeignTableOptions(ctx context.Context, relID Oid) (Options, error)
	ForeignColumnOptions(ctx context.Context, relID Oid, attnum AttrNumber) (Options, error)
	// OpenRelation acquires the relation's descriptor. The caller must Close the handle.
	OpenRelation(ctx context.Context, relID Oid) (RelationHandle, error)
}

// RelationHandle is a scoped acquisition of a relation's tuple descriptor.
type RelationHandle interface {
	Descriptor() TupleDescriptor
	Close()
}

// CatalogCacheID identifies which catalog a change notification is about. CacheAttNum
// fires on any pg_attribute change (ALTER [FOREIGN] TABLE, DROP, ...).
type CatalogCacheID string

const CacheAttNum CatalogCacheID = "attnum"

// CatalogChange describes a single catalog change event.
type CatalogChange struct {
	CacheID    CatalogCacheID `json:"cacheId"`
	RelationID Oid            `json:"relid,omitempty"`
	Command    string         `json:"command,omitempty"`
}

// InvalidationHandler reacts to a catalog change. It runs inline with the publisher and a
// returned error aborts the publishing operation.
type InvalidationHandler func(ctx context.Context, change CatalogChange) error

// ChangeNotifier is the host's catalog-change notification channel.
type ChangeNotifier interface {
	Subscribe(cacheID CatalogCacheID, handler InvalidationHandler) (unsubscribe func())
}
