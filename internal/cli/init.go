// Package cli holds the startup steps shared by cmd/stairs and
// cmd/stairs-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stairs/internal/config"
	"stairs/internal/log"
	"stairs/internal/storage"
)

// SetupLogger builds the process logger at the given level and installs
// it as the slog default.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is not an
// error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and runs Validate plus any
// extra checks. Invalid configuration exits the process.
func LoadAndValidateConfig(logger *log.Logger, extra ...func(*config.Config) error) *config.Config {
	cfg := config.Load()
	checks := append([]func(*config.Config) error{(*config.Config).Validate}, extra...)
	for _, check := range checks {
		if err := check(cfg); err != nil {
			logger.Error("Configuration validation failed", log.FieldError, err)
			os.Exit(1)
		}
	}
	return cfg
}

// InitMirror opens the SQLite mirror or exits the process.
func InitMirror(logger *log.Logger, dbPath string) *storage.Mirror {
	mirror, err := storage.NewMirror(dbPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite mirror", log.FieldError, err, log.FieldFile, dbPath)
		os.Exit(1)
	}
	return mirror
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)
	}()
	return ctx, cancel
}

// RunCleanup runs cleanup with a fresh context bounded by timeout and logs
// whether it finished in time.
func RunCleanup(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := cleanup(ctx); err != nil {
		logger.Warn("Shutdown cleanup incomplete", log.FieldOperation, log.OpShutdown, log.FieldError, err)
		return
	}
	logger.Info("Shutdown complete", log.FieldOperation, log.OpShutdown)
}
