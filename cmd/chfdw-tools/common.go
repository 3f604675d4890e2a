package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/lychee-technology/chfdw"
	"github.com/lychee-technology/chfdw/factory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newFlagSet(name, usage string) (*flag.FlagSet, *string) {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Printf("Usage: chfdw-tools %s %s\n", name, usage)
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}
	configPath := flags.String("config", os.Getenv("CHFDW_CONFIG"), "path to a JSON config file (optional)")
	return flags, configPath
}

// parseFlags returns done=true when the user only asked for help.
func parseFlags(flags *flag.FlagSet, args []string) (done bool, err error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// openRuntime loads the config, installs a logger built from it and connects.
func openRuntime(ctx context.Context, configPath string) (*factory.Runtime, error) {
	cfg, err := chfdw.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := setupLogger(cfg.Logging); err != nil {
		return nil, err
	}
	return factory.NewRuntime(ctx, cfg)
}

func setupLogger(cfg chfdw.LoggingConfig) error {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Format != "" {
		zapCfg.Encoding = cfg.Format
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return chfdw.NewConfigurationError(chfdw.ErrCodeInvalidConfig, "logging.level", "unknown log level").WithCause(err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func parseOid(raw string) (chfdw.Oid, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return chfdw.InvalidOid, fmt.Errorf("invalid oid %q: %w", raw, err)
	}
	return chfdw.Oid(v), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
