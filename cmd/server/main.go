package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nelssec/atoguard/internal/api"
	"github.com/nelssec/atoguard/internal/config"
	"github.com/nelssec/atoguard/internal/connectors"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	set, err := connectors.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build cloud connector: %v", err)
	}

	server, err := api.NewServer(cfg, api.Deps{
		Inventory:    set.Inventory,
		Remediator:   set.Remediator,
		PolicySource: set.PolicySource,
	}, api.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	log.Printf("Starting ATOGuard server on %s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
