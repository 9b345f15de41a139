package main

import (
	"log/slog"
	"os"

	"github.com/nixblitz/installer-engine/cmd/installer-engine/commands"
)

func main() {
	// Initialize structured logger with text format for readability;
	// commands reconfigure it from --log-level and --log-format.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
