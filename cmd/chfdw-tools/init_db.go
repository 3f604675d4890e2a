package main

import (
	"context"
	"fmt"

	"github.com/lychee-technology/chfdw/internal"
)

func runInitDB(args []string) error {
	flags, configPath := newFlagSet("init-db", "[options]")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	channel := rt.Config.Notifications.Channel
	if err := internal.InstallChangeTrigger(ctx, rt.Pool, channel); err != nil {
		return err
	}
	fmt.Printf("Catalog change triggers installed, publishing on channel %s\n", channel)
	return nil
}
