package chfdw

import (
	"context"
)

// MetadataResolver is the API the query translator uses to look up istore and engine
// metadata of functions, types and foreign table columns.
type MetadataResolver interface {
	// Object classification
	ClassifyFunction(ctx context.Context, funcID Oid) (ClassifiedObject, error)
	ClassifyType(ctx context.Context, typeID Oid) (ClassifiedObject, error)

	// Relation resolution, populates the column cache
	ApplyTableOptions(ctx context.Context, relID Oid, tableOptions Options) (EngineOptions, error)
	ResolveRelation(ctx context.Context, relID Oid) (EngineOptions, error)

	// Column lookups
	ColumnInfo(relID Oid, attnum AttrNumber) (ColumnMetadata, bool)
}
