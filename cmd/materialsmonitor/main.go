package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MaterialsMonitor/internal/app"
	"MaterialsMonitor/internal/config"
	"MaterialsMonitor/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		logger.Error("ingest run finished with errors", "error", err)
		os.Exit(1)
	}
}
