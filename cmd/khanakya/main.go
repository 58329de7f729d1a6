package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/khanakya/internal/config"
	"github.com/vbonduro/khanakya/internal/db"
	"github.com/vbonduro/khanakya/internal/llm/backend"
	"github.com/vbonduro/khanakya/internal/logging"
	"github.com/vbonduro/khanakya/internal/service"
	"github.com/vbonduro/khanakya/internal/store"
	"github.com/vbonduro/khanakya/internal/web"
	"github.com/vbonduro/khanakya/internal/web/templates"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	prompts, err := cfg.Prompts()
	if err != nil {
		logger.Error("invalid prompt configuration", "error", err)
		return
	}

	model, err := backend.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize model backend", "error", err)
		return
	}

	var history service.RunRecorder
	if cfg.HistoryEnabled() {
		database, err := db.Open(cfg.HistoryDBPath)
		if err != nil {
			logger.Error("failed to open history database", "error", err)
			return
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()
		history = store.NewRunStore(database)
		logger.Info("run history enabled", "path", cfg.HistoryDBPath)
	}

	runService := service.NewRunService(model, prompts, history, logger)
	server := web.NewServer(runService, templates.FS, web.Options{
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMin,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return server.ListenAndServe(egCtx, cfg.ListenAddr)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutdown requested")
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}
}
