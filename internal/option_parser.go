package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/chfdw"
)

// Option keys recognized on foreign tables and their columns.
const (
	OptionEngine     = "engine"
	OptionColumnName = "column_name"
	OptionArrays     = "arrays"
	OptionKeys       = "keys"
)

const collapsingMergeTreePrefix = "collapsingmergetree"

// ParseEngineOption parses the table-level engine option, e.g. "CollapsingMergeTree(sign)".
// Engines other than CollapsingMergeTree map to chfdw.EngineDefault.
func ParseEngineOption(raw string) (chfdw.EngineOptions, error) {
	if len(raw) < len(collapsingMergeTreePrefix) ||
		!strings.EqualFold(raw[:len(collapsingMergeTreePrefix)], collapsingMergeTreePrefix) {
		return chfdw.DefaultEngineOptions(), nil
	}

	opts := chfdw.EngineOptions{
		Kind:      chfdw.EngineCollapsingMergeTree,
		SignField: chfdw.DefaultSignField,
	}

	start := strings.IndexByte(raw, '(')
	end := strings.LastIndexByte(raw, ')')
	if start < 0 || end < 0 || end <= start+1 {
		return opts, nil
	}

	sign := raw[start+1 : end]
	if len(sign) > chfdw.MaxIdentifierLength {
		return chfdw.EngineOptions{}, chfdw.NewConfigurationError(
			chfdw.ErrCodeInvalidEngineOption,
			OptionEngine,
			fmt.Sprintf("invalid format of ClickHouse engine: sign field exceeds %d bytes", chfdw.MaxIdentifierLength),
		).WithDetail("value", raw)
	}
	opts.SignField = sign
	return opts, nil
}

// ColumnOptions is the parsed form of a column's option list.
type ColumnOptions struct {
	NameOverride    string
	HasNameOverride bool
	// Hint is the istore rendering used when the column's type is an istore type.
	Hint chfdw.ColumnKind
}

// ParseColumnOptions reads column_name, arrays and keys from a column option list.
// Unknown keys are ignored and the last occurrence of a key wins.
func ParseColumnOptions(options chfdw.Options) ColumnOptions {
	parsed := ColumnOptions{Hint: chfdw.ColumnIstoreArray}
	for _, opt := range options {
		switch opt.Key {
		case OptionColumnName:
			parsed.NameOverride = chfdw.TruncateIdentifier(opt.Value)
			parsed.HasNameOverride = true
		case OptionArrays:
			parsed.Hint = chfdw.ColumnIstoreArray
		case OptionKeys:
			parsed.Hint = chfdw.ColumnIstoreKey
		}
	}
	return parsed
}

// EngineOptionsFromTable parses every engine entry of a table option list. Once an entry
// names CollapsingMergeTree the table stays collapsing; a later CollapsingMergeTree entry
// replaces the sign field and a later entry for another engine is ignored.
func EngineOptionsFromTable(tableOptions chfdw.Options) (chfdw.EngineOptions, error) {
	engine := chfdw.DefaultEngineOptions()
	for _, opt := range tableOptions {
		if opt.Key != OptionEngine {
			continue
		}
		parsed, err := ParseEngineOption(opt.Value)
		if err != nil {
			return chfdw.EngineOptions{}, err
		}
		if parsed.Kind == chfdw.EngineCollapsingMergeTree {
			engine = parsed
		}
	}
	return engine, nil
}
