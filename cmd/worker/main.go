package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agora-forum/agora/internal/app"
	"github.com/agora-forum/agora/internal/auth"
	jobmetrics "github.com/agora-forum/agora/internal/jobs"
	"github.com/agora-forum/agora/internal/platform/cache"
	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/internal/users"
	"github.com/agora-forum/agora/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	sender := jobs.NewSender(jobs.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		From: cfg.SMTPFrom,
	}, metrics, logger)

	sessionManager := shared.NewSessionManager(redisClient, "agora_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	usersRepo := users.NewRepository(pool)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, usersRepo, sessionManager)

	janitor := jobs.NewJanitor(authService, usersRepo, metrics, logger)

	now := time.Now().UTC()
	purgeSessionsTask, err := jobs.NewPurgeSessionsTask(now)
	if err != nil {
		logger.Error("build session purge task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTokensTask, err := jobs.NewPurgeTokensTask(now)
	if err != nil {
		logger.Error("build token purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: sender.HandleSendEmailTask},
			{Type: jobs.TaskTypePurgeSessions, Handler: janitor.HandlePurgeSessionsTask},
			{Type: jobs.TaskTypePurgeTokens, Handler: janitor.HandlePurgeTokensTask},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 3 * * *", Task: purgeSessionsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: purgeTokensTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
