package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Teresaloving/PlantQuest/internal/logging"
	"github.com/Teresaloving/PlantQuest/internal/server"
)

func main() {
	var configPath, port string
	flag.StringVar(&configPath, "config", "", "Path to questboard TOML config")
	flag.StringVar(&port, "port", "", "Server port (overrides config and env PORT)")
	flag.Parse()

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if port != "" {
		cfg.Server.Port = port
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to init server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}
}
