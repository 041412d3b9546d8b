package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/gridstore/internal/config"
	"github.com/dmitrijs2005/gridstore/internal/node"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := node.NewApp(ctx, cfg, os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
