package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/db"
	"conveyor/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: search standard locations)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolved, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if resolved != "" {
		logger.Info("configuration loaded", logging.String("path", resolved))
	}

	database, err := db.Open(cfg)
	if err != nil {
		logger.Error("open database", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, database, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = database.Close()
		return
	}
	defer d.Close()

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon run", logging.Error(err))
		return
	}
	logger.Info("conveyord shut down")
}
