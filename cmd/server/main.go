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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/mediaref/internal/app"
	"github.com/tendant/mediaref/internal/logger"
	"github.com/tendant/mediaref/internal/tracing"
	"github.com/tendant/mediaref/pkg/mediaref/api"
	"github.com/tendant/mediaref/pkg/mediaref/config"
	"github.com/tendant/mediaref/pkg/mediaref/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, "mediaref-server", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to init tracing", "err", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Error("Failed to register metrics", "err", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build application", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("mediaref server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"database", cfg.DatabaseType,
			"storage", cfg.StorageBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		log.Error("Server forced to shutdown", "err", err)
	}
}

func routes(a *app.App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(api.LoggingMiddleware(a.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", api.Health)
	r.Handle("/metrics", promhttp.Handler())

	artifacts := api.NewReorganizeHandler(a.Reorganizer(), a.Logger)
	if a.Config.JWTSecret != "" {
		artifacts.WithAuth(api.JWTMiddleware(api.NewJWTAuth(a.Config.JWTSecret)))
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Mount("/artifacts", artifacts.Routes())
	})
	return r
}
