// Command ingestd starts the live ingest and LL-HLS packaging service: an
// RTMP listener that authenticates publishers, drives a Packager child per
// stream, mirrors produced artifacts to an object store, and exposes
// stream/server telemetry over HTTP. The HTTP playlist/segment server, the
// transcoder binary, and the object-store SDK itself are external
// collaborators per spec.md §1; this command only wires their contracts
// together, mirroring the teacher's cmd/server main's
// flag-parse/signal.NotifyContext/graceful-shutdown shape.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitriver/streampack/internal/authgateway"
	"github.com/bitriver/streampack/internal/config"
	"github.com/bitriver/streampack/internal/logging"
	"github.com/bitriver/streampack/internal/objectstore"
	"github.com/bitriver/streampack/internal/packager"
	"github.com/bitriver/streampack/internal/registry"
	"github.com/bitriver/streampack/internal/rtmp"
	"github.com/bitriver/streampack/internal/session"
	"github.com/bitriver/streampack/internal/telemetry"
	"github.com/bitriver/streampack/internal/upload"
)

func main() {
	os.Exit(run())
}

func run() int {
	rtmpAddr := flag.String("rtmp-addr", "", "RTMP listen address (overrides STREAMPACK_SERVER_HOST/PORT)")
	metricsAddr := flag.String("metrics-addr", ":9090", "telemetry HTTP listen address")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides STREAMPACK_LOG_LEVEL)")
	logFormat := flag.String("log-format", "", "log format: json or text (overrides STREAMPACK_LOG_FORMAT)")
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	level := firstNonEmpty(*logLevel, os.Getenv("STREAMPACK_LOG_LEVEL"))
	format := firstNonEmpty(*logFormat, os.Getenv("STREAMPACK_LOG_FORMAT"))
	logger := logging.Init(logging.Config{Level: level, Format: format})

	collector := telemetry.NewCollector(cfg.HLS.TargetLatency)

	store, err := objectstore.New(objectstore.Config{
		Bucket:         cfg.S3.Bucket,
		Region:         cfg.S3.Region,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretAccessKey,
		Endpoint:       cfg.S3.EndpointURI,
		PublicEndpoint: cfg.S3.PublicEndpoint,
		UseSSL:         cfg.S3.UseSSL,
	})
	if err != nil {
		logger.Error("failed to initialise object store", "error", err)
		return 1
	}

	uploader := upload.NewWorker(upload.Config{
		MaxConcurrency: cfg.Upload.MaxConcurrency,
		MaxRetries:     cfg.Upload.MaxRetries,
		RetryDelay:     cfg.Upload.RetryDelay,
	}, store, logging.WithComponent(logger, "upload"))

	supervisor := packager.NewSupervisor(cfg.HLS, logging.WithComponent(logger, "packager"))
	reg := registry.New(collector)

	gateway := authgateway.NewHTTPGateway(authgateway.Config{APIHost: cfg.APIHost})

	handler := session.NewHandler(gateway, supervisor, reg, uploader, collector, logging.WithComponent(logger, "session"))

	listenAddr := firstNonEmpty(*rtmpAddr, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	rtmpServer, err := rtmp.Listen(listenAddr, handler, logging.WithComponent(logger, "rtmp"))
	if err != nil {
		logger.Error("failed to bind RTMP listener", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go uploader.Run(ctx)
	go runHealthProbes(ctx, gateway, store, collector, logging.WithComponent(logger, "healthcheck"))

	rtmpErrs := make(chan error, 1)
	go func() {
		logger.Info("ingest service listening", "rtmp_addr", listenAddr, "save_dir", cfg.HLS.SaveDir)
		if err := rtmpServer.Serve(ctx); err != nil {
			rtmpErrs <- err
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.PrometheusHandler())
	mux.Handle("/metrics.json", collector.SnapshotHandler())
	metricsServer := &http.Server{
		Addr:    *metricsAddr,
		Handler: logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(mux),
	}

	metricsErrs := make(chan error, 1)
	go func() {
		logger.Info("telemetry endpoint listening", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-rtmpErrs:
		logger.Error("rtmp server error", "error", err)
		stop()
	case err := <-metricsErrs:
		logger.Error("telemetry server error", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HLS.ShutdownGrace+5*time.Second)
	defer cancel()

	_ = rtmpServer.Close()
	supervisor.StopAll()
	uploader.Close()

	select {
	case <-uploader.Done():
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for upload worker drain")
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry server shutdown failed", "error", err)
	}

	logger.Info("ingest service stopped")
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

const healthProbeInterval = 30 * time.Second

// runHealthProbes periodically pings the Authentication Gateway and the
// object store, recording each result on collector so it surfaces under
// dependency_health in the telemetry snapshot. Mirrors the teacher's
// Controller.HealthChecks polling loop.
func runHealthProbes(ctx context.Context, gateway *authgateway.HTTPGateway, store objectstore.Client, collector *telemetry.Collector, logger *slog.Logger) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	probeDependencies(ctx, gateway, store, collector, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeDependencies(ctx, gateway, store, collector, logger)
		}
	}
}

// probeDependencies pings the Authentication Gateway and, if configured,
// the object store, recording each outcome on collector.
func probeDependencies(ctx context.Context, gateway *authgateway.HTTPGateway, store objectstore.Client, collector *telemetry.Collector, logger *slog.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	authErr := gateway.Ping(probeCtx)
	collector.SetDependencyHealth("auth_gateway", authErr == nil)
	if authErr != nil {
		logger.Warn("auth gateway health probe failed", "error", authErr)
	}

	if store.Enabled() {
		storeErr := store.Ping(probeCtx)
		collector.SetDependencyHealth("object_store", storeErr == nil)
		if storeErr != nil {
			logger.Warn("object store health probe failed", "error", storeErr)
		}
	}
}
