package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/chfdw"
)

const extensionDir = "/usr/share/postgresql/16/extension"

const istoreControl = `comment = 'istore stand-in for resolver tests'
default_version = '1.0'
relocatable = true
`

// istoreScript mimics the catalog footprint of the istore extension: an istore type and
// a sum aggregate over it, both owned by the extension.
const istoreScript = `
CREATE DOMAIN istore AS jsonb;
CREATE FUNCTION istore_add(istore, istore) RETURNS istore
	LANGUAGE sql IMMUTABLE AS 'SELECT ($1::jsonb || $2::jsonb)::istore';
CREATE AGGREGATE sum(istore) (SFUNC = istore_add, STYPE = istore);
`

// Fixture names the objects created by SeedCatalog.
type Fixture struct {
	Server        string
	RelationID    chfdw.Oid
	IstoreTypeID  chfdw.Oid
	IstoreSumID   chfdw.Oid
	IstoreAddID   chfdw.Oid
	PlainRelation chfdw.Oid
}

// SeedCatalog installs the istore extension and creates foreign tables that use it.
func SeedCatalog(ctx context.Context, db *sql.DB) (Fixture, error) {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS istore`,
		`CREATE FOREIGN DATA WRAPPER chfdw_test_fdw`,
		`CREATE SERVER clickhouse_svr FOREIGN DATA WRAPPER chfdw_test_fdw`,
		`CREATE FOREIGN TABLE events (
			col_a int4,
			col_b istore OPTIONS (keys 'true'),
			col_c istore OPTIONS (column_name 'remote_c')
		) SERVER clickhouse_svr OPTIONS (engine 'CollapsingMergeTree(del)')`,
		`CREATE FOREIGN TABLE plain_events (id int8, payload text) SERVER clickhouse_svr OPTIONS (engine 'MergeTree')`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return Fixture{}, fmt.Errorf("seed catalog: %w", err)
		}
	}

	f := Fixture{Server: "clickhouse_svr"}
	lookups := []struct {
		query string
		dest  *chfdw.Oid
	}{
		{`SELECT 'events'::regclass::oid`, &f.RelationID},
		{`SELECT 'plain_events'::regclass::oid`, &f.PlainRelation},
		{`SELECT 'istore'::regtype::oid`, &f.IstoreTypeID},
		{`SELECT 'sum(istore)'::regprocedure::oid`, &f.IstoreSumID},
		{`SELECT 'istore_add(istore, istore)'::regprocedure::oid`, &f.IstoreAddID},
	}
	for _, l := range lookups {
		var id uint32
		if err := db.QueryRowContext(ctx, l.query).Scan(&id); err != nil {
			return Fixture{}, fmt.Errorf("lookup %q: %w", l.query, err)
		}
		*l.dest = chfdw.Oid(id)
	}
	return f, nil
}

// AlterColumnOptions replaces the options of one foreign table column.
func AlterColumnOptions(ctx context.Context, db *sql.DB, table, column, options string) error {
	stmt := fmt.Sprintf(`ALTER FOREIGN TABLE %s ALTER COLUMN %s OPTIONS (%s)`, table, column, options)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("alter column options: %w", err)
	}
	return nil
}

// ObjectSize returns the size of an uploaded object.
func ObjectSize(ctx context.Context, endpoint, bucket, key string) (int64, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(S3AccessKey, S3SecretKey, "")),
		config.WithBaseEndpoint(endpoint),
	)
	if err != nil {
		return 0, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return 0, fmt.Errorf("head object: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}
