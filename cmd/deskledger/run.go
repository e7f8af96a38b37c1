package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/goodtune/deskledger/internal/config"
	"github.com/goodtune/deskledger/internal/monitor"
	"github.com/goodtune/deskledger/internal/osquery"
	"github.com/goodtune/deskledger/internal/storage"
	"github.com/goodtune/deskledger/internal/storage/bolt"
	"github.com/goodtune/deskledger/internal/storage/file"
	"github.com/goodtune/deskledger/internal/storage/redis"
	"github.com/goodtune/deskledger/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start usage monitoring",
	Long:  `Sample workstation usage until interrupted, persisting the day ledger every save interval.`,
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting deskledger")

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	mon, err := monitor.New(cfg, store, osquery.New(logger), logger,
		monitor.WithReady(func() {
			// Notify systemd that we're ready
			if err := systemd.NotifyReady(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		// Notify systemd that we're stopping
		if err := systemd.NotifyStopping(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
		}
	}()

	if err := mon.Run(ctx); err != nil {
		if errors.Is(err, monitor.ErrAlreadyRunning) {
			logger.Error().Str("computer_id", cfg.Identity.ComputerID).Msg("Another deskledger instance is already running")
		}
		return err
	}

	logger.Info().Msg("deskledger stopped")
	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "file"
	}

	switch storageType {
	case "file":
		return file.Open(cfg.Path)
	case "bolt":
		return bolt.Open(filepath.Join(cfg.Path, "deskledger.bolt"))
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: cfg.File != ""}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(out).With().Timestamp().Logger()
}

// quietLogger is used by the one-shot subcommands.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}
