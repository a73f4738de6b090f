package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"orcamento/internal/cli"
	apphttp "orcamento/internal/http"
	applog "orcamento/internal/log"
	"orcamento/internal/middleware/ratelimit"
	"orcamento/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	service := services.NewImportService(be.Store, be.Uploads, be.Processor(), be.Publisher(), cfg.ImportTimeout)

	// Without a broker no worker runs, so this process expires its own stale imports.
	if be.Broker == nil {
		sweeper := services.NewStaleSweeper(be.Store, services.StaleSweeperConfig{
			Interval:   cfg.SweepInterval,
			StaleAfter: cfg.StaleImportAfter,
			BatchSize:  50,
		})
		if err := sweeper.Start(ctx); err != nil {
			logger.Error("Failed to start stale import sweeper", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			_ = sweeper.Stop(stopCtx)
		}()
	}

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:           ":" + cfg.Port,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
			CleanupInterval:   5 * time.Minute,
		},
		TrustedProxies: cfg.TrustedProxies,
		Ready:          be.Ready,
	}, service, logger.WithComponent(applog.ComponentHTTP))
	if err != nil {
		logger.Error("Failed to configure server", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Starting orcamento server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"uploads", cfg.UploadBackend,
		"async", be.Broker != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		cancel()
		return
	}

	logger.Info("Server stopped gracefully")
}
