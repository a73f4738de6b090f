package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"orcamento/internal/cli"
	applog "orcamento/internal/log"
	"orcamento/internal/services"
	"orcamento/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)

	logger.Info("Starting orcamento-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()
	if be.Broker == nil {
		logger.Error("AMQP client unavailable, nothing to consume")
		return
	}

	importWorker := worker.NewImportWorker(be.Processor(), cfg.ImportTimeout)
	sweeper := services.NewStaleSweeper(be.Store, services.StaleSweeperConfig{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.StaleImportAfter,
		BatchSize:  50,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return be.Broker.ConsumeImportRequests(gctx, importWorker.HandleImportRequested)
	})

	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		return sweeper.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		cancel()
		return
	}

	logger.Info("Worker shutdown complete")
}
