package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"studyroom/internal/attendance"
	"studyroom/internal/bootstrap"
	"studyroom/internal/config"
	"studyroom/internal/exam"
	"studyroom/internal/homework"
	"studyroom/internal/httpapi"
	"studyroom/internal/httpmiddleware"
	"studyroom/internal/lesson"
	"studyroom/internal/logging"
	"studyroom/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg.Env, os.Stdout)
	slog.SetDefault(log)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Error("http server failed", logging.Err(err))
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	dir := infra.Directory(cfg, log)
	dispatcher := bootstrap.Dispatcher(cfg, infra.DB.Client, dir, log)
	deferred := notify.NewQueue(notify.NewQueueRepository(infra.DB.Client), infra.Wake(), log.With(logging.Component("queue")))

	deps := httpapi.Deps{
		Attendance: attendance.NewService(attendance.Options{
			Store:     attendance.NewRepository(infra.DB.Client),
			Directory: dir,
			Notifier:  dispatcher,
			Location:  cfg.Location(),
			Logger:    log.With(logging.Component("attendance")),
		}),
		Exams: exam.NewService(exam.Options{
			Store:     exam.NewRepository(infra.DB.Client),
			Directory: dir,
			Queue:     deferred,
			RankMode:  exam.ParseRankMode(cfg.ExamRankMode),
			Logger:    log.With(logging.Component("exam")),
		}),
		Lessons:  lesson.NewService(lesson.NewRepository(infra.DB.Client), dispatcher, log.With(logging.Component("lesson"))),
		Homework: homework.NewService(homework.NewRepository(infra.DB.Client), dir, dispatcher, log.With(logging.Component("homework"))),
		Health: []httpapi.HealthCheck{
			{Name: "db", Check: infra.DB.Healthy},
		},
		JWTIssuer:     cfg.JWTIssuer,
		JWTSigningKey: cfg.JWTSigningKey,
		AccessTTL:     cfg.AccessTTL,
		DevTokens:     !cfg.Production(),
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        log,
	}
	if infra.Redis != nil {
		deps.Health = append(deps.Health, httpapi.HealthCheck{Name: "redis", Check: infra.Redis.Healthy})
		deps.Limiter = httpmiddleware.NewRedisWindow(infra.Redis.Client, cfg.RateLimitPerMin)
	} else {
		deps.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", logging.Err(err))
	}

	log.Info("server exited")
	return nil
}
