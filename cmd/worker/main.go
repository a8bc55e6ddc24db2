package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"studyroom/internal/bootstrap"
	"studyroom/internal/config"
	"studyroom/internal/logging"
	"studyroom/internal/notify"
)

// Worker drains the deferred notification queue. It polls on an interval
// and also wakes whenever the api signals new items.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg.Env, os.Stdout).With(logging.Component("worker"))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", logging.Err(err))
		os.Exit(1)
	}
	defer infra.Close()

	dispatcher := bootstrap.Dispatcher(cfg, infra.DB.Client, infra.Directory(cfg, log), log)
	drainer := notify.NewDrainer(notify.NewQueueRepository(infra.DB.Client), dispatcher, cfg.DrainBatch, cfg.DrainMaxRetries, log)

	// With the memory backend the api runs in another process, so nothing
	// ever arrives here and the worker falls back to polling.
	wake, err := infra.Wake().Consume(ctx)
	if err != nil {
		log.Error("queue consume init failed", logging.Err(err))
		os.Exit(1)
	}

	log.Info("worker started", slog.Duration("interval", cfg.DrainInterval), slog.Int("batch", cfg.DrainBatch))
	drainer.Run(ctx, cfg.DrainInterval, wake)
	log.Info("worker stopped")
}
