package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

const (
	istoreExtension   = "istore"
	istoreSumFunction = "sum"
	istoreSumMapName  = "sumMap"
)

// ObjectClassifier tells which functions and types belong to the istore extension.
type ObjectClassifier struct {
	catalog chfdw.Catalog
	cache   *ObjectCache
}

// NewObjectClassifier creates a classifier backed by cache.
func NewObjectClassifier(catalog chfdw.Catalog, cache *ObjectCache) *ObjectClassifier {
	return &ObjectClassifier{catalog: catalog, cache: cache}
}

func usualObject(id chfdw.Oid) chfdw.ClassifiedObject {
	return chfdw.ClassifiedObject{ObjectID: id, Kind: chfdw.ObjectUsual}
}

// ClassifyFunction returns the classification of a function. The istore "sum" aggregate
// is pushed down as ClickHouse's sumMap; everything else is usual.
func (c *ObjectClassifier) ClassifyFunction(ctx context.Context, funcID chfdw.Oid) (chfdw.ClassifiedObject, error) {
	if c.catalog.IsBuiltin(funcID) {
		return usualObject(funcID), nil
	}
	if cached, ok := c.cache.Lookup(funcID); ok {
		return cached, nil
	}

	ext, found, err := c.catalog.OwningExtension(ctx, chfdw.ObjectClassProcedure, funcID)
	if err != nil {
		return chfdw.ClassifiedObject{}, chfdw.NewCatalogError(
			fmt.Sprintf("failed to resolve extension of function %d", funcID), err)
	}

	result := usualObject(funcID)
	if found && ext == istoreExtension {
		name, err := c.catalog.FunctionName(ctx, funcID)
		if err != nil {
			if errors.Is(err, chfdw.ErrNotFound) {
				zap.S().Errorw("cache lookup failed for function", "func_id", funcID)
				return chfdw.ClassifiedObject{}, chfdw.NewInternalError(
					chfdw.ErrCodeCatalogLookupFailed,
					fmt.Sprintf("cache lookup failed for function %d", funcID),
					err,
				)
			}
			return chfdw.ClassifiedObject{}, chfdw.NewCatalogError(
				fmt.Sprintf("failed to read function %d", funcID), err)
		}
		if name == istoreSumFunction {
			result.Kind = chfdw.ObjectIstoreSumAggregate
			result.TranslatedName = istoreSumMapName
		}
	}

	stored := c.cache.Insert(result)
	zap.S().Debugw("classified function", "func_id", funcID, "extension", ext, "kind", stored.Kind)
	return stored, nil
}

// ClassifyType returns the classification of a type. Every type owned by the istore
// extension (istore and bigistore) is an istore type.
func (c *ObjectClassifier) ClassifyType(ctx context.Context, typeID chfdw.Oid) (chfdw.ClassifiedObject, error) {
	if c.catalog.IsBuiltin(typeID) {
		return usualObject(typeID), nil
	}
	if cached, ok := c.cache.Lookup(typeID); ok {
		return cached, nil
	}

	ext, found, err := c.catalog.OwningExtension(ctx, chfdw.ObjectClassType, typeID)
	if err != nil {
		return chfdw.ClassifiedObject{}, chfdw.NewCatalogError(
			fmt.Sprintf("failed to resolve extension of type %d", typeID), err)
	}

	result := usualObject(typeID)
	if found && ext == istoreExtension {
		result.Kind = chfdw.ObjectIstoreType
	}

	stored := c.cache.Insert(result)
	zap.S().Debugw("classified type", "type_id", typeID, "extension", ext, "kind", stored.Kind)
	return stored, nil
}
