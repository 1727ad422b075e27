package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"popoyan/internal/app"
	"popoyan/internal/config"
	"popoyan/internal/plantid"
	"popoyan/internal/ratelimit"
	"popoyan/internal/server"
	"popoyan/internal/store"
	"popoyan/internal/util"
	"popoyan/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	catalogStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
	}

	provider := plantid.NewClient(cfg.PlantIDBaseURL, cfg.PlantIDAPIKey)

	appCore, err := app.New(app.Config{
		Store:         catalogStore,
		Provider:      provider,
		Objects:       objects,
		SearchWorkers: cfg.SearchWorkers,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	limiterWindow := time.Duration(cfg.RateLimitWindowSecs) * time.Second
	var limiter server.Limiter
	if cfg.RateLimitRequests > 0 {
		redisLimiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "popoyan:ratelimit", cfg.RateLimitRequests, limiterWindow)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		limiter = redisLimiter
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		LimiterWindow:  limiterWindow,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("catalog server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
