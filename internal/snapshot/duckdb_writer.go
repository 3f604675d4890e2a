package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

// Snapshot is a point-in-time copy of resolved relation metadata.
type Snapshot struct {
	ID         uuid.UUID
	Generation uuid.UUID
	TakenAt    time.Time
	Engines    map[chfdw.Oid]chfdw.EngineOptions
	Columns    []chfdw.ColumnMetadata
}

// New creates a snapshot with a fresh time-ordered id.
func New(generation uuid.UUID, engines map[chfdw.Oid]chfdw.EngineOptions, columns []chfdw.ColumnMetadata) Snapshot {
	sorted := append([]chfdw.ColumnMetadata(nil), columns...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RelationID != sorted[j].RelationID {
			return sorted[i].RelationID < sorted[j].RelationID
		}
		return sorted[i].AttrNumber < sorted[j].AttrNumber
	})
	return Snapshot{
		ID:         uuid.Must(uuid.NewV7()),
		Generation: generation,
		TakenAt:    time.Now().UTC(),
		Engines:    engines,
		Columns:    sorted,
	}
}

var duckDBSchema = []string{
	`CREATE TABLE IF NOT EXISTS relation_engines (
		snapshot_id VARCHAR NOT NULL,
		relation_id UBIGINT NOT NULL,
		engine VARCHAR NOT NULL,
		sign_field VARCHAR,
		taken_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS column_metadata (
		snapshot_id VARCHAR NOT NULL,
		generation VARCHAR NOT NULL,
		relation_id UBIGINT NOT NULL,
		attnum SMALLINT NOT NULL,
		kind VARCHAR NOT NULL,
		engine VARCHAR NOT NULL,
		sign_field VARCHAR,
		display_name VARCHAR NOT NULL,
		taken_at TIMESTAMP NOT NULL
	)`,
}

// DuckDBWriter appends snapshots to a DuckDB database file.
type DuckDBWriter struct {
	DB *sql.DB
}

// OpenDuckDBWriter opens (or creates) the DuckDB file at path and ensures the tables exist.
// An empty path opens an in-memory database.
func OpenDuckDBWriter(ctx context.Context, path string) (*DuckDBWriter, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range duckDBSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create snapshot tables: %w", err)
		}
	}
	return &DuckDBWriter{DB: db}, nil
}

// Write stores s in one transaction.
func (w *DuckDBWriter) Write(ctx context.Context, s Snapshot) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin duckdb tx: %w", err)
	}
	defer tx.Rollback()

	engineStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO relation_engines (snapshot_id, relation_id, engine, sign_field, taken_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare engine insert: %w", err)
	}
	defer engineStmt.Close()

	relIDs := make([]chfdw.Oid, 0, len(s.Engines))
	for relID := range s.Engines {
		relIDs = append(relIDs, relID)
	}
	sort.Slice(relIDs, func(i, j int) bool { return relIDs[i] < relIDs[j] })
	for _, relID := range relIDs {
		eng := s.Engines[relID]
		if _, err := engineStmt.ExecContext(ctx, s.ID.String(), uint64(relID), string(eng.Kind), nullable(eng.SignField), s.TakenAt); err != nil {
			return fmt.Errorf("insert engine of relation %d: %w", relID, err)
		}
	}

	colStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO column_metadata (snapshot_id, generation, relation_id, attnum, kind, engine, sign_field, display_name, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare column insert: %w", err)
	}
	defer colStmt.Close()

	for _, col := range s.Columns {
		if _, err := colStmt.ExecContext(ctx,
			s.ID.String(),
			s.Generation.String(),
			uint64(col.RelationID),
			int16(col.AttrNumber),
			string(col.Kind),
			string(col.Engine),
			nullable(col.SignField),
			col.DisplayName,
			s.TakenAt,
		); err != nil {
			return fmt.Errorf("insert column %d.%d: %w", col.RelationID, col.AttrNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit duckdb tx: %w", err)
	}
	zap.S().Infow("snapshot written to duckdb",
		"snapshot_id", s.ID.String(), "relations", len(s.Engines), "columns", len(s.Columns))
	return nil
}

// CountColumns returns how many column rows snapshotID stored.
func (w *DuckDBWriter) CountColumns(ctx context.Context, snapshotID uuid.UUID) (int64, error) {
	var n int64
	err := w.DB.QueryRowContext(ctx, `SELECT count(*) FROM column_metadata WHERE snapshot_id = ?`, snapshotID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshot columns: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (w *DuckDBWriter) Close() error {
	return w.DB.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
