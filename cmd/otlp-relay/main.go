package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/szibis/otlp-relay/internal/config"
	"github.com/szibis/otlp-relay/internal/exporter"
	"github.com/szibis/otlp-relay/internal/health"
	"github.com/szibis/otlp-relay/internal/logging"
	"github.com/szibis/otlp-relay/internal/pipeline"
	"github.com/szibis/otlp-relay/internal/receiver"
	"github.com/szibis/otlp-relay/internal/stats"
	"github.com/szibis/otlp-relay/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	cfg := config.ParseFlags()
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	logging.SetMinLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetResource(map[string]string{
		"service.name":    "otlp-relay",
		"service.version": version,
	})

	// Respect container memory limits.
	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(cfg.MemoryLimitRatio),
	); err != nil {
		logging.Warn("could not set GOMEMLIMIT", logging.F("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Self-monitoring telemetry (optional).
	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:     cfg.TelemetryEndpoint,
		Protocol:     cfg.TelemetryProtocol,
		Insecure:     cfg.TelemetryInsecure,
		PushInterval: cfg.TelemetryPushInterval,
		Headers:      config.ParseKeyValues(cfg.TelemetryHeaders),
	}, "otlp-relay", version)
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
	}

	exp, err := exporter.New(cfg.ExporterConfig())
	if err != nil {
		logging.Fatal("failed to create exporter", logging.F("error", err.Error()))
	}

	statsCollector := stats.NewCollector()

	pipe := pipeline.New(pipeline.Config{
		BufferSize:      cfg.BufferSize,
		MaxBatchSize:    cfg.MaxBatchSize,
		ScheduleDelay:   cfg.ScheduleDelay,
		Retry:           cfg.RetryConfig(),
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, exp, statsCollector)
	pipe.Start()

	grpcReceiver := receiver.NewGRPC(cfg.GRPCReceiverConfig(), pipe)
	httpReceiver := receiver.NewHTTP(cfg.HTTPReceiverConfig(), pipe)

	checker := health.New()
	checker.RegisterReadiness("buffer", func() error {
		if pipe.BufferLen() >= cfg.BufferSize {
			return fmt.Errorf("buffer saturated (%d records)", cfg.BufferSize)
		}
		return nil
	})

	statsMux := http.NewServeMux()
	statsMux.Handle("/metrics", promhttp.Handler())
	statsMux.Handle("/stats", statsCollector)
	statsMux.Handle("/live", checker.LiveHandler())
	statsMux.Handle("/ready", checker.ReadyHandler())
	statsServer := &http.Server{
		Addr:    cfg.StatsAddr,
		Handler: statsMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcReceiver.Start()
	})
	g.Go(func() error {
		if err := httpReceiver.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr))
		if err := statsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		statsCollector.StartPeriodicLogging(gctx, cfg.StatsLogInterval)
		return nil
	})

	logging.Info("otlp-relay started", logging.F(
		"version", version,
		"grpc_addr", cfg.GRPCListenAddr,
		"http_addr", cfg.HTTPListenAddr,
		"exporter_endpoint", cfg.ExporterEndpoint,
		"exporter_protocol", cfg.ExporterProtocol,
		"stats_addr", cfg.StatsAddr,
	))

	// Wait for shutdown signal or a server failure.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logging.Info("shutting down", logging.F("signal", sig.String()))
	case <-gctx.Done():
		logging.Error("server failure, shutting down")
	}

	// Stop intake first so the pipeline drain sees no new data.
	checker.SetShuttingDown()
	grpcReceiver.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpReceiver.Stop(shutdownCtx); err != nil {
		logging.Error("HTTP receiver shutdown error", logging.F("error", err.Error()))
	}

	if err := pipe.Shutdown(shutdownCtx); err != nil {
		logging.Error("pipeline shutdown incomplete", logging.F("error", err.Error()))
	}

	if err := statsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("stats server shutdown error", logging.F("error", err.Error()))
	}
	cancel()
	_ = g.Wait()

	if tel.Enabled() {
		telCtx, telCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
		defer telCancel()
		logging.SetHook(nil)
		if err := tel.Shutdown(telCtx); err != nil {
			logging.Error("telemetry shutdown error", logging.F("error", err.Error()))
		}
	}

	logging.Info("shutdown complete")
}
