package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mt5-trader/internal/cli"
	"mt5-trader/internal/config"
	"mt5-trader/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configDir := cli.ConfigDirFromArgs(os.Args[1:])
	cfg, cfgErr := config.Load(configDir)

	// Console-only fallback until a valid config provides the file sink.
	logger := logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true})
	if cfg != nil {
		logger = logging.NewLoggerWithConfig(logging.LogConfig{
			Level:      cfg.Logging.Level,
			Console:    cfg.Logging.Console,
			File:       cfg.Logging.File,
			FilePath:   cfg.Logging.FilePath,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
		})
	}

	root := cli.NewRootCmd(cfg, configDir, cfgErr, logger)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
