package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wnt/binledger/internal/config"
	"github.com/wnt/binledger/internal/logger"
	"github.com/wnt/binledger/internal/service"
	"github.com/wnt/binledger/internal/store"
)

func main() {
	// Parse command-line arguments
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	// Load environment variables from the specified file
	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.LogLevel)

	db, err := store.Connect(cfg)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to connect to database")
	}

	registry := service.NewRegistry(logg)
	svc := service.New(cfg, registry, db, logg)

	if err := svc.LoadPools(); err != nil {
		logg.Fatal().Err(err).Msg("Failed to restore pools from checkpoint")
	}

	// Expose prometheus metrics
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := ":" + cfg.MetricsPort
		logg.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := http.ListenAndServe(addr, nil); err != nil {
			logg.Error().Err(err).Msg("Metrics endpoint failed")
		}
	}()

	svc.Start()
	logg.Info().Msg("Bin ledger service started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logg.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	if err := svc.Stop(); err != nil {
		logg.Error().Err(err).Msg("Service shutdown failed")
		os.Exit(1)
	}
}
