package internal

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/chfdw"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCatalog(t *testing.T) (*PgCatalog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgCatalog(mock), mock
}

// ---------------------------------------------------------------------------
// OwningExtension / FunctionName
// ---------------------------------------------------------------------------

func TestPgCatalog_OwningExtension(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT e.extname`).
		WithArgs("pg_catalog.pg_proc", uint32(16410)).
		WillReturnRows(pgxmock.NewRows([]string{"extname"}).AddRow("istore"))

	ext, found, err := catalog.OwningExtension(context.Background(), chfdw.ObjectClassProcedure, 16410)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "istore", ext)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_OwningExtension_NotOwned(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT e.extname`).
		WithArgs("pg_catalog.pg_type", uint32(16600)).
		WillReturnRows(pgxmock.NewRows([]string{"extname"}))

	ext, found, err := catalog.OwningExtension(context.Background(), chfdw.ObjectClassType, 16600)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, ext)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_OwningExtension_QueryError(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT e.extname`).
		WithArgs("pg_catalog.pg_type", uint32(16600)).
		WillReturnError(assert.AnError)

	_, _, err := catalog.OwningExtension(context.Background(), chfdw.ObjectClassType, 16600)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_FunctionName(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT proname FROM pg_catalog.pg_proc`).
		WithArgs(uint32(16410)).
		WillReturnRows(pgxmock.NewRows([]string{"proname"}).AddRow("sum"))
	mock.ExpectQuery(`SELECT proname FROM pg_catalog.pg_proc`).
		WithArgs(uint32(16999)).
		WillReturnRows(pgxmock.NewRows([]string{"proname"}))

	name, err := catalog.FunctionName(context.Background(), 16410)
	require.NoError(t, err)
	assert.Equal(t, "sum", name)

	_, err = catalog.FunctionName(context.Background(), 16999)
	assert.ErrorIs(t, err, chfdw.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestPgCatalog_ForeignTableOptions(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`FROM pg_catalog.pg_foreign_table WHERE ftrelid`).
		WithArgs(uint32(17000)).
		WillReturnRows(pgxmock.NewRows([]string{"ftoptions"}).
			AddRow([]string{"table_name=events", "engine=CollapsingMergeTree(del)", "broken"}))

	opts, err := catalog.ForeignTableOptions(context.Background(), 17000)
	require.NoError(t, err)
	assert.Equal(t, chfdw.Options{
		{Key: "table_name", Value: "events"},
		{Key: "engine", Value: "CollapsingMergeTree(del)"},
		{Key: "broken", Value: ""},
	}, opts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_ForeignTableOptions_NotForeign(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`FROM pg_catalog.pg_foreign_table WHERE ftrelid`).
		WithArgs(uint32(17001)).
		WillReturnRows(pgxmock.NewRows([]string{"ftoptions"}))

	_, err := catalog.ForeignTableOptions(context.Background(), 17001)
	assert.ErrorIs(t, err, chfdw.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_ForeignColumnOptions(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT COALESCE\(attfdwoptions`).
		WithArgs(uint32(17000), int16(2)).
		WillReturnRows(pgxmock.NewRows([]string{"attfdwoptions"}).AddRow([]string{"keys=true", "column_name=b=c"}))

	opts, err := catalog.ForeignColumnOptions(context.Background(), 17000, 2)
	require.NoError(t, err)
	assert.Equal(t, chfdw.Options{
		{Key: "keys", Value: "true"},
		{Key: "column_name", Value: "b=c"},
	}, opts)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// OpenRelation
// ---------------------------------------------------------------------------

func TestPgCatalog_OpenRelation(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT relname FROM pg_catalog.pg_class`).
		WithArgs(uint32(17000)).
		WillReturnRows(pgxmock.NewRows([]string{"relname"}).AddRow("r"))
	mock.ExpectQuery(`SELECT attnum, attname, atttypid, attisdropped`).
		WithArgs(uint32(17000)).
		WillReturnRows(pgxmock.NewRows([]string{"attnum", "attname", "atttypid", "attisdropped"}).
			AddRow(int16(1), "col_a", uint32(23), false).
			AddRow(int16(2), "col_b", uint32(16400), false))
	mock.ExpectRollback()

	rel, err := catalog.OpenRelation(context.Background(), 17000)
	require.NoError(t, err)
	assert.Equal(t, chfdw.TupleDescriptor{
		{Number: 1, Name: "col_a", TypeID: 23},
		{Number: 2, Name: "col_b", TypeID: 16400},
	}, rel.Descriptor())

	rel.Close()
	rel.Close()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_OpenRelation_NotFoundReleasesTx(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT relname FROM pg_catalog.pg_class`).
		WithArgs(uint32(17002)).
		WillReturnRows(pgxmock.NewRows([]string{"relname"}))
	mock.ExpectRollback()

	rel, err := catalog.OpenRelation(context.Background(), 17002)
	assert.Nil(t, rel)
	require.Error(t, err)
	assert.ErrorIs(t, err, chfdw.ErrNotFound)
	assert.Equal(t, chfdw.ErrCodeRelationNotFound, chfdw.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_OpenRelation_BeginError(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly}).WillReturnError(assert.AnError)

	_, err := catalog.OpenRelation(context.Background(), 17000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin catalog transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// ForeignTables
// ---------------------------------------------------------------------------

func TestPgCatalog_ForeignTables(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT ft.ftrelid`).
		WithArgs("clickhouse_svr").
		WillReturnRows(pgxmock.NewRows([]string{"ftrelid"}).AddRow(uint32(17000)).AddRow(uint32(17010)))

	ids, err := catalog.ForeignTables(context.Background(), "clickhouse_svr")
	require.NoError(t, err)
	assert.Equal(t, []chfdw.Oid{17000, 17010}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCatalog_IsBuiltin(t *testing.T) {
	catalog := NewPgCatalog(nil)
	assert.True(t, catalog.IsBuiltin(23))
	assert.False(t, catalog.IsBuiltin(16384))
}

func TestParseOptionArray(t *testing.T) {
	assert.Nil(t, parseOptionArray(nil))
	assert.Equal(t, chfdw.Options{{Key: "a", Value: "1"}}, parseOptionArray([]string{"a=1"}))
}
