// Package main provides the entry point for the chunked render API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/longrender/internal/bootstrap"
	"github.com/maauso/longrender/internal/config"
	"github.com/maauso/longrender/internal/server"
)

const (
	// renderDrainTimeout bounds how long shutdown waits for background renders.
	renderDrainTimeout = 5 * time.Minute
	// renderCancelTimeout bounds how long cancelled renders get to clean up.
	renderCancelTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from .env and the environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting render API",
		slog.Int("port", cfg.Port),
		slog.String("config", cfg.String()),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("redis_enabled", cfg.RedisEnabled()),
	)

	ctx := context.Background()

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.RenderService, logger)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        deps.Metrics,
		FilesDir:       deps.FilesDir,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Large published files are served from /files
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Let in-flight renders finish, then cancel whatever is left so every
	// scratch directory is removed before exit.
	drained := make(chan struct{})
	go func() {
		deps.RenderService.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info("background renders finished")
	case <-time.After(renderDrainTimeout):
		logger.Warn("cancelling background renders still running",
			slog.Duration("waited", renderDrainTimeout),
		)
		cancelCtx, cancelRenders := context.WithTimeout(ctx, renderCancelTimeout)
		defer cancelRenders()
		if err := deps.RenderService.Shutdown(cancelCtx); err != nil {
			logger.Error("background renders did not stop", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped gracefully")
	return nil
}
