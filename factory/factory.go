package factory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/chfdw"
	"github.com/lychee-technology/chfdw/internal"
	"go.uber.org/zap"
)

// minServerVersion is the first release supporting EXECUTE FUNCTION in event triggers.
const minServerVersion = 110000

// Pool is the subset of *pgxpool.Pool the resolver needs.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type queryPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Overridable in tests.
var (
	versionChecker = checkServerVersion
	tokenGenerator = generateIAMToken
)

// NewResolverWithConfig creates a MetadataResolver reading the catalogs through pool.
// Catalog change notifications are not wired; use NewRuntime for that.
//
// Usage:
//
//	config := chfdw.DefaultConfig()
//	resolver, err := factory.NewResolverWithConfig(config, pool)
//	if err != nil {
//	    // handle error
//	}
//	engine, err := resolver.ResolveRelation(ctx, relID)
func NewResolverWithConfig(config *chfdw.Config, pool Pool) (chfdw.MetadataResolver, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, err := versionChecker(context.Background(), pool); err != nil {
		return nil, err
	}
	catalog := internal.NewPgCatalog(pool)
	return internal.NewResolver(catalog, nil, config.Cache), nil
}

// Runtime bundles everything the tools need around one connection pool.
type Runtime struct {
	Config   *chfdw.Config
	Pool     *pgxpool.Pool
	Catalog  *internal.PgCatalog
	Hub      *internal.NotificationHub
	Listener *internal.PgChangeListener
	Resolver *internal.Resolver
}

// NewRuntime connects to the catalog database and builds the resolver. When
// notifications are enabled a listener is created but not started.
func NewRuntime(ctx context.Context, config *chfdw.Config) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	connString, err := connStringFromConfig(ctx, config.Database)
	if err != nil {
		return nil, err
	}
	pool, err := createDatabasePool(ctx, config.Database, connString)
	if err != nil {
		return nil, err
	}

	version, err := versionChecker(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	zap.S().Infow("connected to catalog database",
		"host", config.Database.Host, "database", config.Database.Database, "server_version", version)

	rt := &Runtime{
		Config:  config,
		Pool:    pool,
		Catalog: internal.NewPgCatalog(pool),
		Hub:     internal.NewNotificationHub(),
	}
	rt.Resolver = internal.NewResolver(rt.Catalog, rt.Hub, config.Cache)
	if config.Notifications.Enabled {
		rt.Listener = internal.NewPgChangeListener(internal.PgxDialer(connString), rt.Hub, config.Notifications)
	}
	return rt, nil
}

// Close releases the resolver and the pool.
func (r *Runtime) Close() {
	if r.Resolver != nil {
		r.Resolver.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

func connStringFromConfig(ctx context.Context, db chfdw.DatabaseConfig) (string, error) {
	password := db.Password
	if db.UseIAM {
		token, err := tokenGenerator(ctx, db)
		if err != nil {
			if password == "" {
				return "", chfdw.NewConfigurationError(chfdw.ErrCodeInvalidConfig, "database.useIAM", "failed to generate IAM auth token").
					WithCause(err)
			}
			zap.S().Warnw("failed to generate IAM auth token; falling back to password", "err", err)
		} else {
			password = token
			zap.S().Infow("generated IAM auth token for catalog connection", "host", db.Host)
		}
	}
	return db.ConnString(password), nil
}

func generateIAMToken(ctx context.Context, db chfdw.DatabaseConfig) (string, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(db.AWSRegion))
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	endpoint := fmt.Sprintf("%s:%d", db.Host, db.Port)
	return auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
}

// createDatabasePool creates a PostgreSQL connection pool
func createDatabasePool(ctx context.Context, db chfdw.DatabaseConfig, connString string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(db.MaxConnections)
	poolConfig.MinConns = int32(db.MaxIdleConns)
	poolConfig.MaxConnLifetime = db.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = db.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = db.Timeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func checkServerVersion(ctx context.Context, pool queryPool) (int, error) {
	var raw string
	if err := pool.QueryRow(ctx, "SHOW server_version_num").Scan(&raw); err != nil {
		return 0, fmt.Errorf("failed to verify database connection: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("unexpected server_version_num %q: %w", raw, err)
	}
	if version < minServerVersion {
		return version, fmt.Errorf("server version %d is not supported, need at least %d", version, minServerVersion)
	}
	return version, nil
}
