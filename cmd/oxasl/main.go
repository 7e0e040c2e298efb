package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"oxasl/internal/engine"
	"oxasl/internal/logging"
	"oxasl/internal/solver/native"
)

func main() {
	runSpec := flag.String("spec", "oxasl.yml", "run spec YAML")
	engineCfg := flag.String("config", "", "engine config YAML (optional)")
	flag.Parse()

	logging.InitFromEnv()
	native.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, engine.Config{
		RunSpec:      *runSpec,
		EngineConfig: *engineCfg,
	})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if err := e.Run(ctx); err != nil {
		log.Fatalf("oxasl: %v", err)
	}
}
