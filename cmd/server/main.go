// Package main is the entrypoint for the vqhub API server.
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

	"github.com/calebsch/vqhub/internal/api"
	"github.com/calebsch/vqhub/internal/api/handler"
	mw "github.com/calebsch/vqhub/internal/api/middleware"
	"github.com/calebsch/vqhub/internal/api/response"
	"github.com/calebsch/vqhub/internal/cache"
	"github.com/calebsch/vqhub/internal/config"
	"github.com/calebsch/vqhub/internal/orchestrator"
	"github.com/calebsch/vqhub/internal/runner"
	"github.com/calebsch/vqhub/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"bucket", cfg.Storage.Bucket, "runner_service", cfg.Runner.Service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 3. Connect to object storage and make sure the default bucket exists
	gateway, err := store.NewS3Gateway(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage gateway: %w", err)
	}

	exists, err := gateway.BucketExists(ctx, cfg.Storage.Bucket)
	if err != nil {
		return fmt.Errorf("check default bucket: %w", err)
	}
	if !exists {
		if err := gateway.CreateBucket(ctx, cfg.Storage.Bucket); err != nil {
			return fmt.Errorf("create default bucket: %w", err)
		}
		slog.Info("default bucket created", "bucket", cfg.Storage.Bucket)
	}
	slog.Info("storage connected", "endpoint", cfg.Storage.Endpoint)

	// 4. Create the runner client and the orchestrator
	runnerClient := runner.NewHTTPClient(cfg.Runner.BaseURL, cfg.Runner.Timeout)
	registry := orchestrator.NewRegistry()

	orch := orchestrator.New(gateway, runnerClient, registry, redisCache, orchestrator.Options{
		Service:      cfg.Runner.Service,
		PollInterval: cfg.Jobs.PollInterval,
		TaskCredentials: map[string]string{
			"endpoint":   cfg.Storage.Endpoint,
			"access_key": cfg.Storage.AccessKeyID,
			"secret_key": cfg.Storage.SecretAccessKey,
			"region":     cfg.Storage.Region,
		},
	})

	// 5. Resume jobs orphaned by the previous process lifetime
	resumed := orch.List(ctx, cfg.Storage.Bucket)
	slog.Info("job records reconciled on startup", "count", len(resumed))

	// 6. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHashes)
	rateLimit := mw.NewRateLimit(redisCache, 60)
	if !auth.Enabled() {
		slog.Warn("API key auth disabled, no API_KEY_HASHES configured")
	}

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(gateway, redisCache, cfg.Storage.Bucket),

		CreateJobHandler:  handler.NewCreateJobHandler(orch, cfg.Storage.Bucket),
		ListJobsHandler:   handler.NewListJobsHandler(orch, cfg.Storage.Bucket),
		GetJobHandler:     handler.NewGetJobHandler(orch, cfg.Storage.Bucket),
		DeleteJobHandler:  handler.NewDeleteJobHandler(orch, cfg.Storage.Bucket),
		JobResultsHandler: handler.NewJobResultsHandler(orch, cfg.Storage.Bucket),
		RawReportHandler:  handler.NewRawReportHandler(orch, cfg.Storage.Bucket),

		ListAssetsHandler:    handler.NewListAssetsHandler(gateway, cfg.Storage.Bucket),
		PresignUploadHandler: handler.NewPresignUploadHandler(gateway, cfg.Storage.Bucket, cfg.Storage.PresignTTL),
		DeleteAssetHandler:   handler.NewDeleteAssetHandler(gateway, cfg.Storage.Bucket),
		CreateBucketHandler:  handler.NewCreateBucketHandler(gateway),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks object storage and cache connectivity.
func healthHandler(gw store.Gateway, c cache.Cache, bucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"storage": "ok",
			"cache":   "ok",
		}

		if _, err := gw.BucketExists(r.Context(), bucket); err != nil {
			checks["storage"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["storage"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
