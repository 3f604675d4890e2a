package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init-db":
		if err := runInitDB(os.Args[2:]); err != nil {
			sugar.Fatalf("init-db: %v", err)
		}
	case "resolve":
		if err := runResolve(os.Args[2:]); err != nil {
			sugar.Fatalf("resolve: %v", err)
		}
	case "classify":
		if err := runClassify(os.Args[2:]); err != nil {
			sugar.Fatalf("classify: %v", err)
		}
	case "export":
		if err := runExport(os.Args[2:]); err != nil {
			sugar.Fatalf("export: %v", err)
		}
	case "watch":
		if err := runWatch(os.Args[2:]); err != nil {
			sugar.Fatalf("watch: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: chfdw-tools <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  init-db    Install the event triggers publishing catalog changes")
	logger.Info("  resolve    Resolve engine and column metadata of foreign tables")
	logger.Info("  classify   Classify a function or type oid")
	logger.Info("  export     Write resolved metadata to DuckDB and optionally upload it to S3")
	logger.Info("  watch      Listen for catalog changes and re-resolve affected tables")
}
