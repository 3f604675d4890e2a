package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

type catalogPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	owningExtensionSQL = `SELECT e.extname
		FROM pg_catalog.pg_depend d
		JOIN pg_catalog.pg_extension e ON e.oid = d.refobjid
		WHERE d.classid = $1::regclass
		  AND d.objid = $2
		  AND d.refclassid = 'pg_catalog.pg_extension'::regclass
		  AND d.deptype = 'e'
		LIMIT 1`

	functionNameSQL = `SELECT proname FROM pg_catalog.pg_proc WHERE oid = $1`

	foreignTableOptionsSQL = `SELECT COALESCE(ftoptions, '{}'::text[])
		FROM pg_catalog.pg_foreign_table WHERE ftrelid = $1`

	foreignColumnOptionsSQL = `SELECT COALESCE(attfdwoptions, '{}'::text[])
		FROM pg_catalog.pg_attribute WHERE attrelid = $1 AND attnum = $2`

	relationExistsSQL = `SELECT relname FROM pg_catalog.pg_class WHERE oid = $1`

	tupleDescriptorSQL = `SELECT attnum, attname, atttypid, attisdropped
		FROM pg_catalog.pg_attribute
		WHERE attrelid = $1 AND attnum > 0
		ORDER BY attnum`

	foreignTablesSQL = `SELECT ft.ftrelid
		FROM pg_catalog.pg_foreign_table ft
		JOIN pg_catalog.pg_foreign_server s ON s.oid = ft.ftserver
		WHERE $1::text = '' OR s.srvname::text = $1::text
		ORDER BY ft.ftrelid`
)

// PgCatalog implements chfdw.Catalog on top of the PostgreSQL system catalogs.
type PgCatalog struct {
	pool catalogPool
}

var _ chfdw.Catalog = (*PgCatalog)(nil)

// NewPgCatalog creates a catalog reader over pool.
func NewPgCatalog(pool catalogPool) *PgCatalog {
	return &PgCatalog{pool: pool}
}

// IsBuiltin implements chfdw.Catalog.
func (c *PgCatalog) IsBuiltin(id chfdw.Oid) bool {
	return chfdw.IsBuiltinOid(id)
}

// OwningExtension implements chfdw.Catalog.
func (c *PgCatalog) OwningExtension(ctx context.Context, class chfdw.ObjectClass, id chfdw.Oid) (string, bool, error) {
	var name string
	err := c.pool.QueryRow(ctx, owningExtensionSQL, "pg_catalog."+string(class), uint32(id)).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query owning extension of %s %d: %w", class, id, err)
	}
	return name, true, nil
}

// FunctionName implements chfdw.Catalog.
func (c *PgCatalog) FunctionName(ctx context.Context, id chfdw.Oid) (string, error) {
	var name string
	err := c.pool.QueryRow(ctx, functionNameSQL, uint32(id)).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("function %d: %w", id, chfdw.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query function %d: %w", id, err)
	}
	return name, nil
}

// ForeignTableOptions implements chfdw.Catalog.
func (c *PgCatalog) ForeignTableOptions(ctx context.Context, relID chfdw.Oid) (chfdw.Options, error) {
	var raw []string
	err := c.pool.QueryRow(ctx, foreignTableOptionsSQL, uint32(relID)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("foreign table %d: %w", relID, chfdw.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query options of foreign table %d: %w", relID, err)
	}
	return parseOptionArray(raw), nil
}

// ForeignColumnOptions implements chfdw.Catalog.
func (c *PgCatalog) ForeignColumnOptions(ctx context.Context, relID chfdw.Oid, attnum chfdw.AttrNumber) (chfdw.Options, error) {
	var raw []string
	err := c.pool.QueryRow(ctx, foreignColumnOptionsSQL, uint32(relID), int16(attnum)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attribute %d of relation %d: %w", attnum, relID, chfdw.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query options of attribute %d of relation %d: %w", attnum, relID, err)
	}
	return parseOptionArray(raw), nil
}

// OpenRelation implements chfdw.Catalog. The descriptor is read inside a read-only
// transaction that stays open until the handle is closed.
func (c *PgCatalog) OpenRelation(ctx context.Context, relID chfdw.Oid) (chfdw.RelationHandle, error) {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin catalog transaction: %w", err)
	}
	handle := &pgRelationHandle{tx: tx, relID: relID}

	desc, err := readTupleDescriptor(ctx, tx, relID)
	if err != nil {
		handle.Close()
		return nil, err
	}
	handle.desc = desc
	return handle, nil
}

func readTupleDescriptor(ctx context.Context, tx pgx.Tx, relID chfdw.Oid) (chfdw.TupleDescriptor, error) {
	var relname string
	err := tx.QueryRow(ctx, relationExistsSQL, uint32(relID)).Scan(&relname)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chfdw.NewFDWError(chfdw.ErrorTypeCatalog, chfdw.ErrCodeRelationNotFound, "relation does not exist").
			WithRelation(relID).
			WithCause(chfdw.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up relation %d: %w", relID, err)
	}

	rows, err := tx.Query(ctx, tupleDescriptorSQL, uint32(relID))
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes of %s: %w", relname, err)
	}
	defer rows.Close()

	var desc chfdw.TupleDescriptor
	for rows.Next() {
		var (
			attnum  int16
			attname string
			typeID  uint32
			dropped bool
		)
		if err := rows.Scan(&attnum, &attname, &typeID, &dropped); err != nil {
			return nil, fmt.Errorf("failed to scan attribute row: %w", err)
		}
		desc = append(desc, chfdw.Attribute{
			Number:  chfdw.AttrNumber(attnum),
			Name:    attname,
			TypeID:  chfdw.Oid(typeID),
			Dropped: dropped,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attribute rows: %w", err)
	}
	return desc, nil
}

// ForeignTables lists the oids of foreign tables, all of them when server is empty.
func (c *PgCatalog) ForeignTables(ctx context.Context, server string) ([]chfdw.Oid, error) {
	rows, err := c.pool.Query(ctx, foreignTablesSQL, server)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign tables: %w", err)
	}
	defer rows.Close()

	var out []chfdw.Oid
	for rows.Next() {
		var relID uint32
		if err := rows.Scan(&relID); err != nil {
			return nil, fmt.Errorf("failed to scan foreign table row: %w", err)
		}
		out = append(out, chfdw.Oid(relID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign table rows: %w", err)
	}
	return out, nil
}

type pgRelationHandle struct {
	tx     pgx.Tx
	relID  chfdw.Oid
	desc   chfdw.TupleDescriptor
	closed bool
}

func (h *pgRelationHandle) Descriptor() chfdw.TupleDescriptor {
	return h.desc
}

// Close ends the catalog transaction. It ignores the caller's context so that it still
// runs after a cancellation.
func (h *pgRelationHandle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	if err := h.tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		zap.S().Warnw("failed to release relation", "relid", h.relID, "err", err)
	}
}

// parseOptionArray splits "key=value" entries the way PostgreSQL's untransformRelOptions does.
func parseOptionArray(raw []string) chfdw.Options {
	if len(raw) == 0 {
		return nil
	}
	opts := make(chfdw.Options, 0, len(raw))
	for _, entry := range raw {
		key, value, _ := strings.Cut(entry, "=")
		opts = append(opts, chfdw.Option{Key: key, Value: value})
	}
	return opts
}
