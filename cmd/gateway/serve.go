package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mealscan-gateway/internal/handlers"
	"mealscan-gateway/internal/httpserver"
	"mealscan-gateway/internal/metrics"
	"mealscan-gateway/pkg/logging/logging"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ----- Config -----
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger := logging.NewLoggerWith(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("version_id", cfg.Cache.VersionID),
		zap.String("vision_base_url", cfg.Vision.BaseURL),
		zap.Bool("auth_jwt", cfg.Auth.JWTSecret != ""),
	)

	// ----- Pipeline -----
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("pipeline setup failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.runPruner(ctx)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewAnalyzeHandler(a.service), httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Auth:           cfg.Auth,
		Health:         a.health,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			_ = a.close(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	// In-flight records are flushed after the listener stops accepting work.
	if err := a.close(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
