package chfdw

import (
	"fmt"
	"net/url"
	"time"
)

// Config consolidates resolver, catalog connection and tooling settings
type Config struct {
	Database      DatabaseConfig     `json:"database"`
	Notifications NotificationConfig `json:"notifications"`
	Cache         CacheConfig        `json:"cache"`
	Logging       LoggingConfig      `json:"logging"`
	Snapshot      SnapshotConfig     `json:"snapshot"`
}

// DatabaseConfig contains catalog database connection settings
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	MaxConnections  int           `json:"maxConnections"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout"`

	// UseIAM replaces Password with a generated DSQL auth token.
	UseIAM    bool   `json:"useIAM"`
	AWSRegion string `json:"awsRegion"`
}

// NotificationConfig controls the LISTEN/NOTIFY bridge for catalog changes
type NotificationConfig struct {
	Enabled        bool          `json:"enabled"`
	Channel        string        `json:"channel"`
	ReconnectDelay time.Duration `json:"reconnectDelay"`
}

// CacheConfig sizes the resolver caches
type CacheConfig struct {
	ObjectCacheSize int `json:"objectCacheSize"`
	ColumnCacheSize int `json:"columnCacheSize"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"` // json or console
	Development bool   `json:"development"`
}

// SnapshotConfig controls metadata snapshot export
type SnapshotConfig struct {
	DuckDBPath string `json:"duckdbPath"`
	S3Bucket   string `json:"s3Bucket"`
	S3Prefix   string `json:"s3Prefix"`
	S3Region   string `json:"s3Region"`
	S3Endpoint string `json:"s3Endpoint"`
}

// DefaultNotificationChannel is the NOTIFY channel the change trigger publishes on.
const DefaultNotificationChannel = "chfdw_catalog_changes"

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "postgres",
			Username:        "postgres",
			SSLMode:         "disable",
			MaxConnections:  4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         10 * time.Second,
		},
		Notifications: NotificationConfig{
			Enabled:        true,
			Channel:        DefaultNotificationChannel,
			ReconnectDelay: 2 * time.Second,
		},
		Cache: CacheConfig{
			ObjectCacheSize: 20,
			ColumnCacheSize: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Snapshot: SnapshotConfig{
			DuckDBPath: "chfdw_metadata.duckdb",
			S3Prefix:   "chfdw/snapshots",
		},
	}
}

// Validate checks settings that the JSON schema cannot express
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return NewConfigurationError(ErrCodeInvalidConfig, "database.host", "host cannot be empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return NewConfigurationError(ErrCodeInvalidConfig, "database.port", fmt.Sprintf("invalid port %d", c.Database.Port))
	}
	if c.Database.MaxConnections < 1 {
		return NewConfigurationError(ErrCodeInvalidConfig, "database.maxConnections", "must be >= 1")
	}
	if c.Database.UseIAM && c.Database.AWSRegion == "" {
		return NewConfigurationError(ErrCodeInvalidConfig, "database.awsRegion", "required when useIAM is set")
	}
	if c.Notifications.Enabled {
		if c.Notifications.Channel == "" {
			return NewConfigurationError(ErrCodeInvalidConfig, "notifications.channel", "channel cannot be empty")
		}
		if len(c.Notifications.Channel) > MaxIdentifierLength {
			return NewConfigurationError(ErrCodeInvalidConfig, "notifications.channel", "channel name exceeds identifier length")
		}
	}
	if c.Cache.ObjectCacheSize < 0 || c.Cache.ColumnCacheSize < 0 {
		return NewConfigurationError(ErrCodeInvalidConfig, "cache", "cache sizes must be >= 0")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return NewConfigurationError(ErrCodeInvalidConfig, "logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	return nil
}

// ConnString builds a PostgreSQL URL from the database settings and the given password.
func (d DatabaseConfig) ConnString(password string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}
