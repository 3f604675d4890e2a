package internal

import (
	"context"
	"testing"

	"github.com/lychee-technology/chfdw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	istoreSumOid  chfdw.Oid = 16410
	istoreAddOid  chfdw.Oid = 16411
	istoreTypeOid chfdw.Oid = 16400
	otherExtOid   chfdw.Oid = 16500
	plainUserOid  chfdw.Oid = 16600
	builtinInt4   chfdw.Oid = 23
	builtinSumOid chfdw.Oid = 2108
)

func newIstoreCatalog() *fakeCatalog {
	cat := newFakeCatalog()
	cat.extensions[istoreSumOid] = "istore"
	cat.functionNames[istoreSumOid] = "sum"
	cat.extensions[istoreAddOid] = "istore"
	cat.functionNames[istoreAddOid] = "add"
	cat.extensions[istoreTypeOid] = "istore"
	cat.extensions[otherExtOid] = "hstore"
	return cat
}

// ---------------------------------------------------------------------------
// ClassifyFunction
// ---------------------------------------------------------------------------

func TestClassifyFunction_IstoreSum(t *testing.T) {
	classifier := NewObjectClassifier(newIstoreCatalog(), NewObjectCache(4))

	got, err := classifier.ClassifyFunction(context.Background(), istoreSumOid)
	require.NoError(t, err)
	assert.Equal(t, chfdw.ClassifiedObject{
		ObjectID:       istoreSumOid,
		Kind:           chfdw.ObjectIstoreSumAggregate,
		TranslatedName: "sumMap",
	}, got)
	assert.True(t, got.IsCustom())
}

func TestClassifyFunction_OtherIstoreFunctionIsUsual(t *testing.T) {
	classifier := NewObjectClassifier(newIstoreCatalog(), NewObjectCache(4))

	got, err := classifier.ClassifyFunction(context.Background(), istoreAddOid)
	require.NoError(t, err)
	assert.Equal(t, chfdw.ObjectUsual, got.Kind)
	assert.Empty(t, got.TranslatedName)
}

func TestClassifyFunction_NonIstore(t *testing.T) {
	cat := newIstoreCatalog()
	classifier := NewObjectClassifier(cat, NewObjectCache(4))

	for _, id := range []chfdw.Oid{otherExtOid, plainUserOid} {
		got, err := classifier.ClassifyFunction(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, chfdw.ObjectUsual, got.Kind)
		assert.False(t, got.IsCustom())
	}
}

func TestClassifyFunction_BuiltinSkipsCatalogAndCache(t *testing.T) {
	cat := newIstoreCatalog()
	cache := NewObjectCache(4)
	classifier := NewObjectClassifier(cat, cache)

	got, err := classifier.ClassifyFunction(context.Background(), builtinSumOid)
	require.NoError(t, err)
	assert.Equal(t, chfdw.ObjectUsual, got.Kind)
	assert.Equal(t, 0, cat.extensionCalls)
	assert.Equal(t, 0, cache.Len())
}

func TestClassifyFunction_CachesResult(t *testing.T) {
	cat := newIstoreCatalog()
	cache := NewObjectCache(4)
	classifier := NewObjectClassifier(cat, cache)
	ctx := context.Background()

	first, err := classifier.ClassifyFunction(ctx, istoreSumOid)
	require.NoError(t, err)
	second, err := classifier.ClassifyFunction(ctx, istoreSumOid)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, cat.extensionCalls)
	assert.Equal(t, 1, cache.Len())
}

func TestClassifyFunction_MissingNameIsInternalError(t *testing.T) {
	cat := newIstoreCatalog()
	delete(cat.functionNames, istoreSumOid)
	cache := NewObjectCache(4)
	classifier := NewObjectClassifier(cat, cache)

	_, err := classifier.ClassifyFunction(context.Background(), istoreSumOid)
	require.Error(t, err)
	assert.True(t, chfdw.IsInvariantViolation(err))
	assert.Equal(t, chfdw.ErrCodeCatalogLookupFailed, chfdw.ErrorCode(err))
	assert.ErrorIs(t, err, chfdw.ErrNotFound)
	assert.Equal(t, 0, cache.Len())
}

func TestClassifyFunction_CatalogFailure(t *testing.T) {
	cat := newIstoreCatalog()
	cat.extensionErr = assert.AnError
	cache := NewObjectCache(4)
	classifier := NewObjectClassifier(cat, cache)

	_, err := classifier.ClassifyFunction(context.Background(), istoreSumOid)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, chfdw.IsConfigurationError(err))
	assert.Equal(t, 0, cache.Len())
}

// ---------------------------------------------------------------------------
// ClassifyType
// ---------------------------------------------------------------------------

func TestClassifyType(t *testing.T) {
	cat := newIstoreCatalog()
	classifier := NewObjectClassifier(cat, NewObjectCache(4))
	ctx := context.Background()

	got, err := classifier.ClassifyType(ctx, istoreTypeOid)
	require.NoError(t, err)
	assert.Equal(t, chfdw.ObjectIstoreType, got.Kind)
	assert.Empty(t, got.TranslatedName)

	got, err = classifier.ClassifyType(ctx, otherExtOid)
	require.NoError(t, err)
	assert.Equal(t, chfdw.ObjectUsual, got.Kind)

	got, err = classifier.ClassifyType(ctx, builtinInt4)
	require.NoError(t, err)
	assert.Equal(t, chfdw.ObjectUsual, got.Kind)
	assert.Equal(t, 2, cat.extensionCalls)
}

func TestClassify_SharedCacheAcrossKinds(t *testing.T) {
	cat := newIstoreCatalog()
	classifier := NewObjectClassifier(cat, NewObjectCache(4))
	ctx := context.Background()

	_, err := classifier.ClassifyType(ctx, istoreTypeOid)
	require.NoError(t, err)
	_, err = classifier.ClassifyType(ctx, istoreTypeOid)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.extensionCalls)
}

// ---------------------------------------------------------------------------
// Known gap: classifications are never invalidated
// ---------------------------------------------------------------------------

// The object cache keeps a classification for the life of the process. If the istore
// extension is dropped and its oid is reused by an unrelated object, the stale
// classification is still returned. This test pins that behavior.
func TestClassifyFunction_KnownGap_StaleAfterExtensionDropAndOidReuse(t *testing.T) {
	cat := newIstoreCatalog()
	hub := NewNotificationHub()
	classifier := NewObjectClassifier(cat, NewObjectCache(4))
	ctx := context.Background()

	got, err := classifier.ClassifyFunction(ctx, istoreSumOid)
	require.NoError(t, err)
	require.Equal(t, chfdw.ObjectIstoreSumAggregate, got.Kind)

	// DROP EXTENSION istore; the oid is then reused by a plain user function.
	delete(cat.extensions, istoreSumOid)
	cat.functionNames[istoreSumOid] = "my_sum"
	require.NoError(t, hub.Notify(ctx, chfdw.CatalogChange{CacheID: chfdw.CacheAttNum, Command: "DROP EXTENSION"}))

	got, err = classifier.ClassifyFunction(ctx, istoreSumOid)
	require.NoError(t, err)
	assert.Equal(t, chfdw.ObjectIstoreSumAggregate, got.Kind, "stale classification is expected to survive")
	assert.Equal(t, "sumMap", got.TranslatedName)
}
