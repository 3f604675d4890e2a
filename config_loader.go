package chfdw

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// configSchema validates the shape of a config file before it is decoded.
const configSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "database": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string", "minLength": 1},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "database": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "sslMode": {"enum": ["disable", "allow", "prefer", "require", "verify-ca", "verify-full"]},
        "maxConnections": {"type": "integer", "minimum": 1},
        "maxIdleConns": {"type": "integer", "minimum": 0},
        "connMaxLifetime": {"type": ["integer", "string"]},
        "connMaxIdleTime": {"type": ["integer", "string"]},
        "timeout": {"type": ["integer", "string"]},
        "useIAM": {"type": "boolean"},
        "awsRegion": {"type": "string"}
      }
    },
    "notifications": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "channel": {"type": "string", "pattern": "^[a-z_][a-z0-9_]*$"},
        "reconnectDelay": {"type": ["integer", "string"]}
      }
    },
    "cache": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "objectCacheSize": {"type": "integer", "minimum": 0},
        "columnCacheSize": {"type": "integer", "minimum": 0}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "format": {"enum": ["json", "console"]},
        "development": {"type": "boolean"}
      }
    },
    "snapshot": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "duckdbPath": {"type": "string"},
        "s3Bucket": {"type": "string"},
        "s3Prefix": {"type": "string"},
        "s3Region": {"type": "string"},
        "s3Endpoint": {"type": "string"}
      }
    }
  }
}`

// durationFields lists section/key pairs that accept Go duration strings such as "5s".
var durationFields = map[string][]string{
	"database":      {"connMaxLifetime", "connMaxIdleTime", "timeout"},
	"notifications": {"reconnectDelay"},
}

// LoadConfig reads a JSON config file, validates it and merges it over DefaultConfig.
// Environment overrides are applied last. An empty path loads defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeConfig(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeConfig(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewConfigurationError(ErrCodeInvalidConfig, "", "config is not valid JSON").WithCause(err)
	}
	if err := validateConfigDocument(raw); err != nil {
		return err
	}
	if err := normalizeDurations(raw); err != nil {
		return err
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to re-encode config: %w", err)
	}
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return NewConfigurationError(ErrCodeInvalidConfig, "", "config does not match expected types").WithCause(err)
	}
	return nil
}

func validateConfigDocument(doc map[string]any) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(configSchema), &schema); err != nil {
		return fmt.Errorf("failed to unmarshal config schema: %w", err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("failed to resolve config schema: %w", err)
	}
	if err := resolved.Validate(doc); err != nil {
		return NewConfigurationError(ErrCodeInvalidConfig, "", "config validation failed").WithCause(err)
	}
	return nil
}

func normalizeDurations(raw map[string]any) error {
	for section, keys := range durationFields {
		obj, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := obj[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return NewConfigurationError(ErrCodeInvalidConfig, section+"."+key, "invalid duration").WithCause(err)
			}
			obj[key] = int64(d)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Database.Host = getEnv("CHFDW_DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("CHFDW_DB_PORT", cfg.Database.Port)
	cfg.Database.Database = getEnv("CHFDW_DB_NAME", cfg.Database.Database)
	cfg.Database.Username = getEnv("CHFDW_DB_USER", cfg.Database.Username)
	cfg.Database.Password = getEnv("CHFDW_DB_PASSWORD", cfg.Database.Password)
	cfg.Database.SSLMode = getEnv("CHFDW_DB_SSL_MODE", cfg.Database.SSLMode)
	cfg.Notifications.Channel = getEnv("CHFDW_NOTIFY_CHANNEL", cfg.Notifications.Channel)
	cfg.Logging.Level = getEnv("CHFDW_LOG_LEVEL", cfg.Logging.Level)
	cfg.Snapshot.S3Bucket = getEnv("CHFDW_S3_BUCKET", cfg.Snapshot.S3Bucket)
	cfg.Snapshot.S3Region = getEnv("CHFDW_S3_REGION", cfg.Snapshot.S3Region)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
