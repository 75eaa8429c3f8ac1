package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"stairs/internal/amqp"
	"stairs/internal/cli"
	"stairs/internal/config"
	"stairs/internal/core"
	apphttp "stairs/internal/http"
	"stairs/internal/log"
	"stairs/internal/services"
	"stairs/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateMirror)

	logger.Info("Starting stairs-worker", log.FieldOperation, log.OpStartup)

	mirror := cli.InitMirror(logger, cfg.MirrorSQLitePath)
	defer mirror.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	processor := services.NewMirrorProcessor(mirror, logger)
	source := func(context.Context) (core.Snapshot, error) {
		return storage.ReadSnapshot(cfg.LedgerPath, core.Today(core.SystemClock()))
	}

	srv := apphttp.NewMirrorServer(apphttp.MirrorServerConfig{
		Addr:               ":" + cfg.MirrorPort,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, mirror, logger)
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.ShutdownTimeout)
	})
	g.Go(func() error {
		return amqpClient.Consume(gctx, processor.HandleLedgerEvent)
	})
	g.Go(func() error {
		return processor.RunReconciler(gctx, cfg.MirrorReconcileInterval, source)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
	}

	stats := processor.Stats()
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown,
		"applied", stats.Applied,
		"failed", stats.Failed)
}
