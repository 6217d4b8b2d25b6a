package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sorag20/Unirep/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	eventDir := flag.String("event-dir", "", "Directory holding the event logs")
	checkpointDir := flag.String("checkpoint-dir", "", "Directory for ledger checkpoints")
	socketPath := flag.String("socket", "", "Unix socket path for IPC")
	metricsListen := flag.String("metrics-listen", "", "Address for the Prometheus endpoint (\"off\" disables it)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := buildConfig(*configPath, *eventDir, *checkpointDir, *socketPath, *metricsListen)
	if err != nil {
		logger.Error("failed to build configuration", zap.Error(err))
		os.Exit(1)
	}

	paths := config.DefaultPaths()
	if err := paths.EnsureDirectories(); err != nil {
		logger.Error("failed to create directories", zap.Error(err))
		os.Exit(1)
	}

	daemon, err := NewDaemon(*cfg, logger)
	if err != nil {
		logger.Error("failed to create daemon", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting unirep-synchronizer",
		zap.String("eventDir", cfg.Ingest.EventDir),
		zap.String("checkpointDir", cfg.Storage.CheckpointDir),
		zap.String("socket", cfg.IPC.Socket),
		zap.Stringer("circuit", cfg.Circuit),
	)

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("daemon stopped gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// buildConfig loads the configuration file, or the defaults when none is
// given, and applies flag overrides.
func buildConfig(configPath, eventDir, checkpointDir, socketPath, metricsListen string) (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = c
	} else {
		c := config.Default()
		cfg = &c
	}

	if eventDir != "" {
		cfg.Ingest.EventDir = config.ExpandPath(eventDir)
	}
	if checkpointDir != "" {
		cfg.Storage.CheckpointDir = config.ExpandPath(checkpointDir)
	}
	if socketPath != "" {
		cfg.IPC.Socket = config.ExpandPath(socketPath)
	}
	switch metricsListen {
	case "":
	case "off":
		cfg.Metrics.Listen = ""
	default:
		cfg.Metrics.Listen = metricsListen
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
