package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filevault/internal/server/api"
	"filevault/internal/server/auth"
	"filevault/internal/server/config"
	"filevault/internal/server/database"
	"filevault/internal/server/logging"
	"filevault/internal/server/service"
	"filevault/internal/server/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("FILEVAULT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filevault: %v\n", err)
		os.Exit(1)
	}

	// Structured logging
	if _, err := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON}); err != nil {
		fmt.Fprintf(os.Stderr, "filevault: %v\n", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"share_ttl", cfg.ShareTTL,
		"chunk_size", cfg.ChunkSize,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("content storage initialized", "backend", cfg.StorageBackend)

	sessions, err := auth.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		slog.Error("failed to initialize sessions", "error", err)
		os.Exit(1)
	}

	// Initialize repository and services
	repo := database.NewRepository(db)
	files := service.NewFileService(repo, store, cfg)
	users := service.NewUserService(repo, store, sessions)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanup *storage.CleanupService
	if cfg.CleanupInterval > 0 {
		cleanup = storage.NewCleanupService(files, store, cfg.CleanupInterval, cfg.StaleAfter)
		cleanup.Start(cleanupCtx)
	}

	// Setup HTTP router
	handler := api.NewHandler(files, users, db, cfg)
	e := api.SetupRouter(handler, cfg)
	autoTLS := api.ConfigureAutoTLS(e, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL, "auto_tls", autoTLS)

		var err error
		if autoTLS {
			err = e.StartAutoTLS(addr)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
		slog.Info("server stopped")
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	if cleanup != nil {
		cleanup.Wait()
	}

	slog.Info("server exited cleanly")
}
