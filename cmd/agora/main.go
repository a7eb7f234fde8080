package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agora-forum/agora/internal/app"
	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/discipline"
	"github.com/agora-forum/agora/internal/forum"
	"github.com/agora-forum/agora/internal/observability"
	"github.com/agora-forum/agora/internal/platform/cache"
	"github.com/agora-forum/agora/internal/platform/db"
	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/internal/users"
	"github.com/agora-forum/agora/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "agora_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	mailer := jobs.NewMailer(jobClient, cfg.BaseURL)

	metrics := observability.NewMetrics()

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, mailer, auditLogger, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, usersRepo, sessionManager)

	disciplineRepo := discipline.NewRepository(dbpool)
	disciplineService := discipline.NewService(
		disciplineRepo,
		usersRepo,
		authService,
		mailer,
		metrics,
		auditLogger,
		logger,
		discipline.ServiceConfig{MaxSuspensionHours: cfg.MaxSuspensionHours},
	)

	forumRepo := forum.NewRepository(dbpool)
	forumService := forum.NewService(forumRepo, usersRepo, disciplineService, auditLogger, logger)

	authHandler := auth.NewHandler(logger, authService, disciplineService, sessionManager)
	usersHandler := users.NewHandler(logger, usersService, disciplineService)
	disciplineHandler := discipline.NewHandler(logger, disciplineService, usersRepo)
	forumHandler := forum.NewHandler(logger, forumService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       authHandler,
		UsersHandler:      usersHandler,
		DisciplineHandler: disciplineHandler,
		ForumHandler:      forumHandler,
		JobHandler:        jobHandler,
		UserMiddleware:    users.Middleware{Repo: usersRepo, Logger: logger},
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
