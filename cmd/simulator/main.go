package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/campus-energy/internal/app"
	"github.com/smukkama/campus-energy/internal/metrics"
	"github.com/smukkama/campus-energy/internal/simulation"
	"github.com/smukkama/campus-energy/internal/tick"
	"github.com/smukkama/campus-energy/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		logrus.Fatal(err)
	}

	fmt.Println("Starting Campus Energy Simulator...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := app.Open(ctx, cfg, true)
	if err != nil {
		logrus.Fatalf("Failed to start: %v", err)
	}
	defer stack.Close()
	fmt.Println("Connected to database")

	tickCfg, err := app.TickConfig(cfg)
	if err != nil {
		logrus.Fatalf("Invalid simulation settings: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := append(stack.DriverOptions(true), tick.WithMetrics(metrics.New(reg)))

	seed := cfg.Simulation.SeedOrNow()
	driver := tick.NewDriver(stack.Catalog, stack.DB, simulation.NewRNG(seed), tickCfg, opts...)

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	driver.Start(ctx)

	fmt.Println("\n✓ Campus Energy Simulator is running")
	fmt.Printf("✓ Tick interval: %s | Batch size: %d | Seed: %d\n", tickCfg.Interval, tickCfg.BatchSize, seed)
	if stack.State != nil {
		fmt.Println("✓ Pass lease held in Redis")
	}
	if stack.Events != nil {
		fmt.Printf("✓ Publishing to Kafka topics %s, %s\n", cfg.Kafka.TopicReadings, cfg.Kafka.TopicPasses)
	}
	if metricsServer != nil {
		fmt.Printf("✓ Metrics on %s/metrics\n", cfg.Metrics.Addr)
	}
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully (finishing the current pass)...")
	cancel()
	driver.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	fmt.Println("Campus Energy Simulator stopped")
}
