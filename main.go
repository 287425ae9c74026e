package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"

	"immich-sorter/internal/app"
)

const version = "0.1.0"

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	if err := fang.Execute(
		context.Background(),
		app.NewRootCmd(&level),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		slog.Error("app failed", "error", err)
		os.Exit(1)
	}
}
