package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"clipcast/internal/adapter/fetcher"
	"clipcast/internal/adapter/platform"
	"clipcast/internal/adapter/sqlite"
	"clipcast/internal/config"
	"clipcast/internal/domain"
	"clipcast/internal/observability"
	"clipcast/internal/worker"
)

func main() {
	// Optional .env for local runs; real deployments use the environment.
	_ = godotenv.Load()

	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting clipcast",
		"db", cfg.DBPath, "scratch_dir", cfg.ScratchDir, "poll_interval", cfg.PollInterval.String())

	repo, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("initialize database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	// Recover jobs a previous process left in flight.
	if recovered, err := repo.RecoverStale(context.Background()); err != nil {
		logger.Warn("recover stale jobs", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered stale jobs", "count", recovered)
	}

	registry := platform.NewRegistry()
	registry.Register(platform.NewTikTok())
	registry.Register(platform.NewFacebook())
	registry.Register(platform.NewInstagram())

	creds := map[domain.Platform]domain.Credentials{
		domain.PlatformTikTok: {
			AccessToken: cfg.Platforms.TikTok.AccessToken,
			AccountID:   cfg.Platforms.TikTok.AccountID,
		},
		domain.PlatformFacebook: {
			AccessToken: cfg.Platforms.Facebook.AccessToken,
			AccountID:   cfg.Platforms.Facebook.AccountID,
		},
		domain.PlatformInstagram: {
			AccessToken: cfg.Platforms.Instagram.AccessToken,
			AccountID:   cfg.Platforms.Instagram.AccountID,
		},
	}
	concurrency := map[domain.Platform]int{
		domain.PlatformTikTok:    cfg.Platforms.TikTok.Concurrency,
		domain.PlatformFacebook:  cfg.Platforms.Facebook.Concurrency,
		domain.PlatformInstagram: cfg.Platforms.Instagram.Concurrency,
	}

	w := worker.New(repo, fetcher.New(cfg.ScratchDir), registry, creds, concurrency,
		worker.Settings{
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.MaxAttempts,
			FetchLimit:   cfg.FetchLimit,
			MaxHeight:    cfg.MaxHeight,
		}, logger)

	observability.StartMetricsServer(cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	cancel()
	<-done
	logger.Info("shutdown complete")
}
