// Package main runs a one-shot wallet analysis from the command line and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/GoofyComponent/GoofyChain/internal/config"
	"github.com/GoofyComponent/GoofyChain/internal/explorer"
	"github.com/GoofyComponent/GoofyChain/internal/logging"
	"github.com/GoofyComponent/GoofyChain/internal/pricing"
	"github.com/GoofyComponent/GoofyChain/internal/service"
	"github.com/GoofyComponent/GoofyChain/internal/storage"
)

func main() {
	var (
		address  = flag.String("address", "", "Wallet address to analyze (required)")
		currency = flag.String("currency", "", "Fiat currency (defaults to configured currency)")
		withTxs  = flag.Bool("transactions", false, "Include individual transactions in the output")
		timeout  = flag.Duration("timeout", 30*time.Minute, "Overall analysis timeout")
	)
	flag.Parse()

	if *address == "" {
		flag.Usage()
		os.Exit(2)
	}

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

	fetcher := explorer.NewClient(&cfg.Etherscan)
	resolver := pricing.NewResolver(pricing.Config{
		APIKey:  cfg.CryptoPrice.APIKey,
		BaseURL: cfg.CryptoPrice.BaseURL,
	})
	repo := storage.NewAnalysisRepository(postgres)

	analysisService := service.NewAnalysisService(fetcher, resolver, repo, nil, cfg.DefaultFiat)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	analysis, err := analysisService.AnalyzeWallet(ctx, *address, *currency)
	if err != nil {
		logger.WithError(err).Fatal("Analysis failed")
	}

	if !*withTxs {
		analysis.Transactions = nil
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(analysis); err != nil {
		logger.WithError(err).Fatal("Failed to encode result")
	}
}
