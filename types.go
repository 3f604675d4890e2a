package chfdw

import (
	"unicode/utf8"

	"github.com/lib/pq/oid"
)

// Oid is a PostgreSQL catalog object id.
type Oid = oid.Oid

// InvalidOid is the zero object id.
const InvalidOid Oid = 0

// AttrNumber is a 1-based attribute (column) number within a relation.
type AttrNumber int16

const (
	// NameDataLen matches PostgreSQL's NAMEDATALEN, including the terminator.
	NameDataLen = 64

	// MaxIdentifierLength is the longest identifier, in bytes, that fits a name buffer.
	MaxIdentifierLength = NameDataLen - 1

	// FirstGenbkiObjectID is the first oid not assigned by hand in the PostgreSQL catalogs.
	// Everything below it ships with the server.
	FirstGenbkiObjectID Oid = 10000
)

// IsBuiltinOid reports whether id belongs to the server's hand-assigned oid range.
func IsBuiltinOid(id Oid) bool {
	return id < FirstGenbkiObjectID
}

// ObjectClass names the catalog an object id lives in.
type ObjectClass string

const (
	ObjectClassProcedure ObjectClass = "pg_proc"
	ObjectClassType      ObjectClass = "pg_type"
)

// ObjectKind is the semantic role of a classified function or type.
type ObjectKind string

const (
	ObjectUsual              ObjectKind = "usual"
	ObjectIstoreSumAggregate ObjectKind = "istore_sum"
	ObjectIstoreType         ObjectKind = "istore_type"
)

// ClassifiedObject is the memoized classification of a function or type.
type ClassifiedObject struct {
	ObjectID       Oid        `json:"objectId"`
	Kind           ObjectKind `json:"kind"`
	TranslatedName string     `json:"translatedName,omitempty"`
}

// IsCustom reports whether the object needs special rendering.
func (o ClassifiedObject) IsCustom() bool {
	return o.Kind != ObjectUsual && o.Kind != ""
}

// EngineKind is the ClickHouse table engine family of a foreign table.
type EngineKind string

const (
	EngineDefault             EngineKind = "default"
	EngineCollapsingMergeTree EngineKind = "collapsing_merge_tree"
)

// DefaultSignField is the sign column of a CollapsingMergeTree table when none is given.
const DefaultSignField = "sign"

// EngineOptions is the parsed value of the table-level "engine" option.
type EngineOptions struct {
	Kind      EngineKind `json:"kind"`
	SignField string     `json:"signField,omitempty"`
}

// DefaultEngineOptions returns the options used when no engine option is set.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{Kind: EngineDefault}
}

// ColumnKind tells the translator how to render a column.
type ColumnKind string

const (
	ColumnUsual       ColumnKind = "usual"
	ColumnIstoreArray ColumnKind = "istore_arrays"
	ColumnIstoreKey   ColumnKind = "istore_keys"
)

// ColumnMetadata is the cached per-column rendering information.
type ColumnMetadata struct {
	RelationID  Oid        `json:"relationId"`
	AttrNumber  AttrNumber `json:"attrNumber"`
	Kind        ColumnKind `json:"kind"`
	Engine      EngineKind `json:"engine"`
	SignField   string     `json:"signField,omitempty"`
	DisplayName string     `json:"displayName"`
}

// ColumnKey identifies a column inside the column cache.
type ColumnKey struct {
	RelationID Oid
	AttrNumber AttrNumber
}

// Key returns the cache key of the column.
func (m ColumnMetadata) Key() ColumnKey {
	return ColumnKey{RelationID: m.RelationID, AttrNumber: m.AttrNumber}
}

// Option is one key/value pair of a foreign table or column option list.
type Option struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Options is an ordered option list as stored in the catalog.
type Options []Option

// Attribute is one entry of a relation's tuple descriptor.
type Attribute struct {
	Number  AttrNumber `json:"number"`
	Name    string     `json:"name"`
	TypeID  Oid        `json:"typeId"`
	Dropped bool       `json:"dropped,omitempty"`
}

// TupleDescriptor lists a relation's attributes in ascending attribute number order.
type TupleDescriptor []Attribute

// TruncateIdentifier cuts s to MaxIdentifierLength bytes without splitting a UTF-8 sequence.
func TruncateIdentifier(s string) string {
	if len(s) <= MaxIdentifierLength {
		return s
	}
	cut := MaxIdentifierLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
