package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/hfql/internal/cache"
	"github.com/rpattn/hfql/internal/config"
	"github.com/rpattn/hfql/internal/export"
	"github.com/rpattn/hfql/internal/fanout"
	"github.com/rpattn/hfql/internal/fetcher"
	"github.com/rpattn/hfql/internal/filter"
	"github.com/rpattn/hfql/internal/huntflow"
	"github.com/rpattn/hfql/internal/middleware"
	"github.com/rpattn/hfql/internal/query"
	"github.com/rpattn/hfql/internal/queryapi"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	// Shared TTL cache for entity lists, counts and fan-out results
	ttlCache := cache.New(cfg.Cache.TTL, cache.WithLogger(logger))

	client := huntflow.NewClient(cfg.Huntflow.BaseURL, cfg.Huntflow.AccountID, cfg.Huntflow.Token,
		huntflow.WithTimeout(cfg.Huntflow.Timeout),
		huntflow.WithRateLimit(cfg.Huntflow.RateLimit, cfg.Huntflow.Burst),
		huntflow.WithLogger(logger),
	)
	runner := fanout.NewRunner(
		fanout.WithCache(ttlCache),
		fanout.WithBatchSize(cfg.FanOut.BatchSize),
		fanout.WithConcurrency(cfg.FanOut.Concurrency),
		fanout.WithLogger(logger),
	)
	entities := fetcher.New(client, ttlCache,
		fetcher.WithPageSize(cfg.Huntflow.PageSize),
		fetcher.WithMaxPages(cfg.Huntflow.MaxPages),
		fetcher.WithRecruiterEnrichment(cfg.Huntflow.EnrichRecruiters),
		fetcher.WithFanOut(runner),
		fetcher.WithLogger(logger),
	)
	engine := filter.NewEngine(entities, filter.WithLogger(logger))
	executor := query.NewExecutor(entities, engine, query.WithLogger(logger))

	api := queryapi.NewHTTPHandler(executor, ttlCache, export.NewService(export.WithLogger(logger)), queryapi.WithLogger(logger))

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Content-Disposition"},
	})

	mux := http.NewServeMux()
	mux.Handle("/", api)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.RequestIDMiddleware(middleware.LoggingMiddleware(logger)(mux))),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting query server",
			slog.String("addr", cfg.Server.Addr),
			slog.Int("account_id", cfg.Huntflow.AccountID),
			slog.Duration("cache_ttl", cfg.Cache.TTL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
