// Command manualsvc serves manufacturer listings, resolved service manuals,
// and session-scoped PDF previews over HTTP.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/JakeFAU/equipment-manuals/internal/config"
	"github.com/JakeFAU/equipment-manuals/internal/server"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}
