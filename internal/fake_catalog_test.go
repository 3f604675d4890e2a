package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/lychee-technology/chfdw"
)

// fakeCatalog is an in-memory chfdw.Catalog that counts the calls it receives.
type fakeCatalog struct {
	mu sync.Mutex

	extensions    map[chfdw.Oid]string
	functionNames map[chfdw.Oid]string
	tableOptions  map[chfdw.Oid]chfdw.Options
	columnOptions map[chfdw.ColumnKey]chfdw.Options
	relations     map[chfdw.Oid]chfdw.TupleDescriptor

	extensionErr error
	functionErr  error
	columnErr    error

	extensionCalls int
	openCalls      int
	closeCalls     int
	columnCalls    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		extensions:    make(map[chfdw.Oid]string),
		functionNames: make(map[chfdw.Oid]string),
		tableOptions:  make(map[chfdw.Oid]chfdw.Options),
		columnOptions: make(map[chfdw.ColumnKey]chfdw.Options),
		relations:     make(map[chfdw.Oid]chfdw.TupleDescriptor),
	}
}

func (f *fakeCatalog) IsBuiltin(id chfdw.Oid) bool {
	return chfdw.IsBuiltinOid(id)
}

func (f *fakeCatalog) OwningExtension(_ context.Context, _ chfdw.ObjectClass, id chfdw.Oid) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extensionCalls++
	if f.extensionErr != nil {
		return "", false, f.extensionErr
	}
	ext, ok := f.extensions[id]
	return ext, ok, nil
}

func (f *fakeCatalog) FunctionName(_ context.Context, id chfdw.Oid) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.functionErr != nil {
		return "", f.functionErr
	}
	name, ok := f.functionNames[id]
	if !ok {
		return "", fmt.Errorf("function %d: %w", id, chfdw.ErrNotFound)
	}
	return name, nil
}

func (f *fakeCatalog) ForeignTableOptions(_ context.Context, relID chfdw.Oid) (chfdw.Options, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts, ok := f.tableOptions[relID]
	if !ok {
		return nil, fmt.Errorf("foreign table %d: %w", relID, chfdw.ErrNotFound)
	}
	return opts, nil
}

func (f *fakeCatalog) ForeignColumnOptions(_ context.Context, relID chfdw.Oid, attnum chfdw.AttrNumber) (chfdw.Options, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.columnCalls++
	if f.columnErr != nil {
		return nil, f.columnErr
	}
	return f.columnOptions[chfdw.ColumnKey{RelationID: relID, AttrNumber: attnum}], nil
}

func (f *fakeCatalog) OpenRelation(_ context.Context, relID chfdw.Oid) (chfdw.RelationHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc, ok := f.relations[relID]
	if !ok {
		return nil, chfdw.NewFDWError(chfdw.ErrorTypeCatalog, chfdw.ErrCodeRelationNotFound, "relation does not exist").
			WithRelation(relID).
			WithCause(chfdw.ErrNotFound)
	}
	f.openCalls++
	return &fakeRelation{catalog: f, desc: desc}, nil
}

func (f *fakeCatalog) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeRelation struct {
	catalog *fakeCatalog
	desc    chfdw.TupleDescriptor
}

func (r *fakeRelation) Descriptor() chfdw.TupleDescriptor {
	return r.desc
}

func (r *fakeRelation) Close() {
	r.catalog.mu.Lock()
	defer r.catalog.mu.Unlock()
	r.catalog.closeCalls++
}
