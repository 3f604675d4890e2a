package main

import (
	"context"
	"fmt"

	"github.com/lychee-technology/chfdw"
)

func runClassify(args []string) error {
	flags, configPath := newFlagSet("classify", "[options] <oid>")
	kind := flags.String("kind", "function", "object kind: function or type")
	if done, err := parseFlags(flags, args); done || err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one oid is required")
	}
	id, err := parseOid(flags.Arg(0))
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	var obj chfdw.ClassifiedObject
	switch *kind {
	case "function":
		obj, err = rt.Resolver.ClassifyFunction(ctx, id)
	case "type":
		obj, err = rt.Resolver.ClassifyType(ctx, id)
	default:
		return fmt.Errorf("unknown kind %q", *kind)
	}
	if err != nil {
		return err
	}
	return printJSON(obj)
}
