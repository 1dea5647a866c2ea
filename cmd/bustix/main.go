package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/olekht/bustix-go/internal/app"
	"github.com/olekht/bustix-go/internal/config"
)

// @title        bustix API
// @version      1.0
// @description  Bus seat reservation service with a blocking/booking workflow.
// @BasePath     /
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to init app", slog.Any("error", err))
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("app stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}
