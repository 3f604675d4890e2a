package main

import (
	"context"
	"fmt"

	"github.com/lychee-technology/chfdw"
	"github.com/lychee-technology/chfdw/factory"
)

type relationReport struct {
	RelationID chfdw.Oid              `json:"relationId"`
	Engine     chfdw.EngineOptions    `json:"engine"`
	Columns    []chfdw.ColumnMetadata `json:"columns"`
}

func runResolve(args []string) error {
	flags, configPath := newFlagSet("resolve", "[options] [relid...]")
	server := flags.String("server", "", "resolve every foreign table of this server when no relid is given")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	relIDs, err := targetRelations(ctx, rt, flags.Args(), *server)
	if err != nil {
		return err
	}
	reports, err := resolveRelations(ctx, rt, relIDs)
	if err != nil {
		return err
	}
	return printJSON(reports)
}

func targetRelations(ctx context.Context, rt *factory.Runtime, args []string, server string) ([]chfdw.Oid, error) {
	if len(args) == 0 {
		return rt.Catalog.ForeignTables(ctx, server)
	}
	relIDs := make([]chfdw.Oid, 0, len(args))
	for _, arg := range args {
		id, err := parseOid(arg)
		if err != nil {
			return nil, err
		}
		relIDs = append(relIDs, id)
	}
	return relIDs, nil
}

func resolveRelations(ctx context.Context, rt *factory.Runtime, relIDs []chfdw.Oid) ([]relationReport, error) {
	reports := make([]relationReport, 0, len(relIDs))
	for _, relID := range relIDs {
		engine, err := rt.Resolver.ResolveRelation(ctx, relID)
		if err != nil {
			return nil, fmt.Errorf("relation %d: %w", relID, err)
		}
		report := relationReport{RelationID: relID, Engine: engine}
		columns, _ := rt.Resolver.Columns()
		for _, col := range columns {
			if col.RelationID == relID {
				report.Columns = append(report.Columns, col)
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}
