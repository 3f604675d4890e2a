package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

func runWatch(args []string) error {
	flags, configPath := newFlagSet("watch", "[options]")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Listener == nil {
		return fmt.Errorf("notifications are disabled in the configuration")
	}

	// The column cache handler must run before ours so the relation is resolved against
	// an empty cache.
	rt.Resolver.EnsureColumnCache()
	unsubscribe := rt.Hub.Subscribe(chfdw.CacheAttNum, func(ctx context.Context, change chfdw.CatalogChange) error {
		_, generation := rt.Resolver.Columns()
		zap.S().Infow("catalog change",
			"relid", change.RelationID, "command", change.Command, "generation", generation.String())
		if change.RelationID == chfdw.InvalidOid || change.Command == "DROP" {
			return nil
		}
		engine, err := rt.Resolver.ResolveRelation(ctx, change.RelationID)
		if err != nil {
			zap.S().Warnw("re-resolve failed", "relid", change.RelationID, "err", err)
			return nil
		}
		zap.S().Infow("relation re-resolved", "relid", change.RelationID, "engine", engine.Kind, "sign_field", engine.SignField)
		return nil
	})
	defer unsubscribe()

	zap.S().Infow("watching catalog changes", "channel", rt.Config.Notifications.Channel)
	return rt.Listener.Run(ctx)
}
