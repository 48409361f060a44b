// Package main starts the wallet analytics API server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoofyComponent/GoofyChain/internal/api"
	"github.com/GoofyComponent/GoofyChain/internal/config"
	"github.com/GoofyComponent/GoofyChain/internal/explorer"
	"github.com/GoofyComponent/GoofyChain/internal/logging"
	"github.com/GoofyComponent/GoofyChain/internal/pricing"
	"github.com/GoofyComponent/GoofyChain/internal/service"
	"github.com/GoofyComponent/GoofyChain/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	fetcher := explorer.NewClient(&cfg.Etherscan)
	resolver := pricing.NewResolver(pricing.Config{
		APIKey:  cfg.CryptoPrice.APIKey,
		BaseURL: cfg.CryptoPrice.BaseURL,
	})

	repo := storage.NewAnalysisRepository(postgres)
	cache := storage.NewAnalysisCache(redis, cfg.AnalysisTTL)

	analysisService := service.NewAnalysisService(fetcher, resolver, repo, cache, cfg.DefaultFiat)
	portfolioService := service.NewPortfolioService(repo, analysisService)

	server := api.NewServer(
		&api.ServerConfig{
			Host:              cfg.Server.Host,
			Port:              cfg.Server.Port,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		analysisService,
		portfolioService,
		map[string]api.HealthChecker{
			"postgres": postgres,
			"redis":    redis,
		},
	)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}
