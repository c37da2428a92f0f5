package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p2precon/internal/config"
	"p2precon/internal/database"
	"p2precon/internal/events"
	"p2precon/internal/handler"
	"p2precon/internal/kv"
	"p2precon/internal/model"
	"p2precon/internal/override"
	"p2precon/internal/repository"
	"p2precon/internal/service"
	"p2precon/internal/settings"
	"p2precon/internal/worker"
)

func main() {
	cfg := config.New()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		slog.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB(context.Background(), db)

	if err := database.InitSchema(context.Background(), db); err != nil {
		slog.Error("failed to init DB schema", "error", err)
		os.Exit(1)
	}

	store, err := kv.Open(cfg.KVPath)
	if err != nil {
		slog.Error("failed to open kv store", "path", cfg.KVPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	creds, err := settings.Open(store, model.Credentials{
		UseAPI:    cfg.BybitUseAPI,
		APIKey:    cfg.BybitAPIKey,
		APISecret: cfg.BybitAPISecret,
	})
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := events.NewHub()
	go hub.Run(ctx)

	// Services
	overrides := override.NewStore(store)
	orderRepo := repository.NewOrderRepo(db)
	syncer := service.NewSyncCoordinator(creds, service.BybitFactory(cfg.BybitOptions()), overrides, orderRepo, hub, service.SyncConfig{
		PageSize:          cfg.SyncPageSize,
		MaxPages:          cfg.SyncMaxPages,
		DetailConcurrency: cfg.DetailConcurrency,
		SnapshotTTL:       cfg.SyncInterval,
	})
	creds.Subscribe(func(c model.Credentials) {
		syncer.Invalidate()
		hub.Publish(events.SettingsChanged, c.View())
	})

	authSvc := service.NewAuthService(repository.NewUserRepo(db))
	orderSvc := service.NewOrderService(orderRepo, overrides, syncer, hub)

	if err := authSvc.EnsureAdmin(ctx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
		slog.Error("failed to provision admin", "login", cfg.AdminLogin, "error", err)
		os.Exit(1)
	}

	// Worker
	syncWorker := worker.NewSyncWorker(syncer, cfg.SyncInterval)

	srv := &http.Server{
		Addr: cfg.RunAddress,
		Handler: handler.NewRouter(handler.Deps{
			Auth:      authSvc,
			Orders:    orderSvc,
			Settings:  creds,
			Hub:       hub,
			JWTSecret: cfg.JWTSecret,
		}),
		ReadTimeout: 10 * time.Second,
		// sync requests may wait on exchange retries
		WriteTimeout: 2 * time.Minute,
	}

	go syncWorker.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress, "dialect", db.Dialect, "bybit", cfg.BybitBaseURL)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop worker and hub
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
