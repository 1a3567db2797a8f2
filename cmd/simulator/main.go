// Package main is the entry point for the request-processing simulator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"reqsim/internal/config"
	"reqsim/internal/engine"
	"reqsim/internal/metrics"
	"reqsim/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	duration := flag.Int("duration", 0, "Simulation duration in seconds (0 = use config)")
	rate := flag.Float64("rate", 0, "Request generation rate in requests/sec (0 = use config)")
	seed := flag.Int64("seed", 0, "Random seed (0 = use config)")
	outPath := flag.String("out", "result.json", "Path to write the JSON result artifact")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *duration > 0 {
		cfg.Simulation.Duration = time.Duration(*duration) * time.Second
	}
	if *rate > 0 {
		cfg.Simulation.RequestGenerationRate = *rate
	}
	if *seed != 0 {
		cfg.Simulation.RandomSeed = *seed
	}

	slog.Info("starting simulator",
		"duration", cfg.Simulation.Duration,
		"request_rate", cfg.Simulation.RequestGenerationRate,
		"seed", cfg.Simulation.RandomSeed,
	)

	telemetryMetrics := telemetry.NewMetrics(nil)
	go func() {
		port := cfg.Telemetry.PrometheusPort
		if port <= 0 {
			port = 9090
		}
		addr := ":" + strconv.Itoa(port)
		slog.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, telemetry.Handler()); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	collector := metrics.New()
	sim := engine.New(cfg, collector, telemetryMetrics, logger)
	sim.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := sim.Start(ctx); err != nil {
		slog.Error("failed to start simulation", "error", err)
		os.Exit(1)
	}

	runCtx, runCancel := context.WithTimeout(ctx, cfg.Simulation.Duration)
	defer runCancel()
	sim.Run(runCtx)

	slog.Info("shutting down...")
	sim.Stop()

	results := sim.Results()
	f, err := os.Create(*outPath)
	if err != nil {
		slog.Error("failed to create result file", "path", *outPath, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		slog.Error("failed to write result file", "error", err)
		os.Exit(1)
	}

	slog.Info("simulation complete", "result_file", *outPath,
		"total_sent", results.MetricsSummary.TotalSent,
		"total_successful", results.MetricsSummary.TotalSuccessful,
	)
}
