package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

// maxPopulateAttempts bounds how often a resolution restarts after a concurrent
// invalidation.
const maxPopulateAttempts = 2

// TableOptionsApplier parses a foreign table's options and fills the column cache with
// the metadata of each of its attributes.
type TableOptionsApplier struct {
	catalog    chfdw.Catalog
	classifier *ObjectClassifier
	columns    func() *ColumnCache
}

// NewTableOptionsApplier creates an applier. columns returns the column cache, creating it
// on first use.
func NewTableOptionsApplier(catalog chfdw.Catalog, classifier *ObjectClassifier, columns func() *ColumnCache) *TableOptionsApplier {
	return &TableOptionsApplier{
		catalog:    catalog,
		classifier: classifier,
		columns:    columns,
	}
}

// ApplyTableOptions parses tableOptions and resolves every attribute of relID that is not
// cached yet. The returned engine options belong in the relation's planning state.
func (a *TableOptionsApplier) ApplyTableOptions(ctx context.Context, relID chfdw.Oid, tableOptions chfdw.Options) (chfdw.EngineOptions, error) {
	engine, err := EngineOptionsFromTable(tableOptions)
	if err != nil {
		var fe *chfdw.FDWError
		if errors.As(err, &fe) {
			fe.WithRelation(relID)
		}
		return chfdw.EngineOptions{}, err
	}

	cache := a.columns()
	for attempt := 1; ; attempt++ {
		complete, err := a.populate(ctx, relID, engine, cache)
		if err != nil {
			return chfdw.EngineOptions{}, err
		}
		if complete {
			break
		}
		if attempt == maxPopulateAttempts {
			zap.S().Warnw("column cache kept changing during resolution; columns left unresolved",
				"relid", relID, "attempts", attempt)
			break
		}
	}
	return engine, nil
}

// populate resolves the uncached attributes of relID against the cache generation read
// before the relation is opened. It returns false when an invalidation ran meanwhile; the
// metadata built from the older catalog state is then dropped.
func (a *TableOptionsApplier) populate(ctx context.Context, relID chfdw.Oid, engine chfdw.EngineOptions, cache *ColumnCache) (bool, error) {
	generation := cache.Generation()

	rel, err := a.catalog.OpenRelation(ctx, relID)
	if err != nil {
		return false, fmt.Errorf("failed to open relation %d: %w", relID, err)
	}
	defer rel.Close()

	added := 0
	for _, attr := range rel.Descriptor() {
		if cache.Contains(relID, attr.Number) {
			continue
		}
		meta, err := a.buildColumn(ctx, relID, attr, engine)
		if err != nil {
			return false, err
		}
		inserted, err := cache.Insert(meta, generation)
		if errors.Is(err, ErrGenerationChanged) {
			zap.S().Infow("column cache invalidated during resolution",
				"relid", relID, "attnum", attr.Number, "generation", generation.String())
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if inserted {
			added++
		}
	}

	zap.S().Debugw("applied table options",
		"relid", relID, "engine", engine.Kind, "sign_field", engine.SignField, "columns_added", added)
	return true, nil
}

func (a *TableOptionsApplier) buildColumn(ctx context.Context, relID chfdw.Oid, attr chfdw.Attribute, engine chfdw.EngineOptions) (chfdw.ColumnMetadata, error) {
	meta := chfdw.ColumnMetadata{
		RelationID:  relID,
		AttrNumber:  attr.Number,
		Kind:        chfdw.ColumnUsual,
		Engine:      engine.Kind,
		SignField:   engine.SignField,
		DisplayName: chfdw.TruncateIdentifier(attr.Name),
	}

	options, err := a.catalog.ForeignColumnOptions(ctx, relID, attr.Number)
	if err != nil {
		return chfdw.ColumnMetadata{}, chfdw.NewCatalogError(
			fmt.Sprintf("failed to read options of column %d", attr.Number), err).WithRelation(relID)
	}
	colOpts := ParseColumnOptions(options)
	if colOpts.HasNameOverride {
		meta.DisplayName = colOpts.NameOverride
	}

	typ, err := a.classifier.ClassifyType(ctx, attr.TypeID)
	if err != nil {
		return chfdw.ColumnMetadata{}, err
	}
	if typ.Kind == chfdw.ObjectIstoreType {
		meta.Kind = colOpts.Hint
	}
	return meta, nil
}
