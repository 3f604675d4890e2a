package main

import (
	"context"
	"fmt"

	"github.com/lychee-technology/chfdw"
	"github.com/lychee-technology/chfdw/internal/snapshot"
)

func runExport(args []string) error {
	flags, configPath := newFlagSet("export", "[options] [relid...]")
	server := flags.String("server", "", "export every foreign table of this server when no relid is given")
	output := flags.String("output", "", "DuckDB file to write (defaults to snapshot.duckdbPath)")
	upload := flags.Bool("upload", false, "upload the DuckDB file to snapshot.s3Bucket")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	path := *output
	if path == "" {
		path = rt.Config.Snapshot.DuckDBPath
	}

	relIDs, err := targetRelations(ctx, rt, flags.Args(), *server)
	if err != nil {
		return err
	}
	engines := make(map[chfdw.Oid]chfdw.EngineOptions, len(relIDs))
	for _, relID := range relIDs {
		engine, err := rt.Resolver.ResolveRelation(ctx, relID)
		if err != nil {
			return fmt.Errorf("relation %d: %w", relID, err)
		}
		engines[relID] = engine
	}
	columns, generation := rt.Resolver.Columns()
	snap := snapshot.New(generation, engines, columns)

	writer, err := snapshot.OpenDuckDBWriter(ctx, path)
	if err != nil {
		return err
	}
	if err := writer.Write(ctx, snap); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close duckdb: %w", err)
	}
	fmt.Printf("Snapshot %s written to %s (%d relations, %d columns)\n", snap.ID, path, len(engines), len(snap.Columns))

	if !*upload {
		return nil
	}
	uploader, err := snapshot.NewUploader(ctx, rt.Config.Snapshot)
	if err != nil {
		return err
	}
	key, err := uploader.Upload(ctx, path, snap.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot uploaded to s3://%s/%s\n", rt.Config.Snapshot.S3Bucket, key)
	return nil
}
