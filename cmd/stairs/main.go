package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"stairs/internal/amqp"
	"stairs/internal/bot"
	"stairs/internal/cache"
	"stairs/internal/cli"
	"stairs/internal/core"
	apphttp "stairs/internal/http"
	"stairs/internal/log"
	"stairs/internal/services"
	"stairs/internal/storage"
	"stairs/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting stairs", log.FieldOperation, log.OpStartup, log.FieldFile, cfg.LedgerPath)

	queue := worker.NewWriteQueue(worker.WriteQueueConfig{
		Size:       cfg.WriteQueueSize,
		JobTimeout: cfg.WriteTimeout,
	}, logger)
	store := storage.NewSnapshotStore(cfg.LedgerPath, queue, core.SystemClock, logger)

	// A nil *amqp.Client must not end up inside the interface.
	var (
		publisher  services.Publisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPEnabled() {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		publisher = amqpClient
		logger.Info("Ledger events enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Ledger events disabled - no AMQP_URL provided")
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	svcConfig := services.DefaultLedgerServiceConfig()
	svcConfig.ChartDays = cfg.ChartWindow()
	svcConfig.CacheTTL = cfg.CacheTTL
	svc, err := services.OpenLedgerService(ctx, store, core.SystemClock, publisher, svcConfig, logger)
	if err != nil {
		logger.Error("Failed to load ledger", log.FieldError, err, log.FieldFile, cfg.LedgerPath)
		os.Exit(1)
	}

	janitor := cache.NewJanitor(logger)
	janitor.Register(svc.SeriesCache())
	if cfg.CacheTTL > 0 {
		janitor.Start(cfg.CacheTTL)
	}

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ReadyCheck: func(context.Context) error {
			if pending := queue.Stats().Pending; pending >= cfg.WriteQueueSize {
				return fmt.Errorf("write queue full (%d pending)", pending)
			}
			return nil
		},
	}, svc, bot.NewHandler(svc, logger), logger)
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.ShutdownTimeout)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
	}

	cli.RunCleanup(logger, cfg.ShutdownTimeout, func(ctx context.Context) error {
		janitor.Stop()
		errs := []error{svc.Close(ctx), queue.Close(ctx)}
		if amqpClient != nil {
			errs = append(errs, amqpClient.Close())
		}
		return errors.Join(errs...)
	})
}
