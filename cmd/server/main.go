package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"pushscheduler/internal/config"
	"pushscheduler/internal/httpapi"
	"pushscheduler/internal/notifications"
	"pushscheduler/internal/service"
	"pushscheduler/internal/store/memory"
	"pushscheduler/internal/store/postgres"

	"github.com/lmittmann/tint"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		tokens    service.NotificationTokensStore
		scheduled service.ScheduledNotificationsStore
		dbPing    func(context.Context) error
	)

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := postgres.Migrate(ctx, pgPool); err != nil {
			logger.Error("db migrate failed", "err", err)
			os.Exit(1)
		}

		tokens = postgres.NewNotificationTokensStore(pgPool)
		scheduled = postgres.NewScheduledNotificationsStore(pgPool)
		dbPing = pgPool.Ping
	} else {
		logger.Warn("APP_DB_DSN not set, using in-memory store")
		tokens = memory.NewNotificationTokensStore()
		scheduled = memory.NewScheduledNotificationsStore()
	}

	hub := notifications.NewHub(logger)
	sender := &notifications.Router{Relay: hub}
	if cfg.FCMEnabled() {
		fcm, err := notifications.NewFCMSender(ctx, cfg.FCMProjectID, cfg.FCMCredentialsPath)
		if err != nil {
			logger.Error("fcm init failed", "err", err)
			os.Exit(1)
		}
		sender.FCM = fcm
		logger.Info("fcm enabled")
	} else {
		logger.Info("fcm disabled", "reason", "APP_FCM_CREDENTIALS not set")
	}

	notificationsSvc := &service.NotificationService{
		Tokens:    tokens,
		Scheduled: scheduled,
		Logger:    logger,
	}

	dispatcher := &service.Dispatcher{
		Scheduled: scheduled,
		Tokens:    tokens,
		Sender:    sender,
		Logger:    logger,
		Interval:  cfg.DispatchInterval,
		Batch:     cfg.DispatchBatch,
	}
	dispatcher.Start(ctx)

	router := httpapi.NewRouter(httpapi.RouterOpts{
		Logger:        logger,
		IsProd:        cfg.IsProd(),
		DBPing:        dbPing,
		Notifications: notificationsSvc,
		Relay:         hub.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		dispatcher.Stop()
	case err := <-errCh:
		dispatcher.Stop()
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
}
