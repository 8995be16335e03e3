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
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"go.pilab.hu/oidcstore"
	echoapi "go.pilab.hu/oidcstore/api/echo"
	"go.pilab.hu/oidcstore/cache"
	"go.pilab.hu/oidcstore/client"
	"go.pilab.hu/oidcstore/config"
	"go.pilab.hu/oidcstore/internal/audit"
	"go.pilab.hu/oidcstore/internal/metrics"
	"go.pilab.hu/oidcstore/internal/telemetry"
	"go.pilab.hu/oidcstore/tracing"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the adapter API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, opts.cfg, zlog.Logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.ServerConfig, logger zerolog.Logger) error {
	logger.Info().
		Str("http_port", cfg.HTTPPort).
		Bool("redis", cfg.RedisURL != "").
		Bool("kafka", len(cfg.Brokers()) > 0).
		Str("otel_service", cfg.OtelServiceName).
		Msg("starting oidcstore")

	shutdownTracing, err := tracing.InitTracerProvider(ctx, tracing.Config{
		ServiceName: cfg.OtelServiceName,
		Endpoint:    cfg.OtelExporterEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return err
	}
	defer shutdownWith(logger, "tracer provider", shutdownTracing)

	res, err := tracing.Resource(ctx, cfg.OtelServiceName)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mp, err := telemetry.InitMeterProvider(ctx, reg, res, cfg.OtelExporterEndpoint)
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background(), mp)

	backendStore, backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() {
		if err := backendStore.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close state store")
		}
	}()

	if mem, ok := backendStore.(*cache.MemoryStore); ok {
		if err := metrics.RegisterMemoryStore(reg, mem); err != nil {
			return err
		}
	}

	store, err := telemetry.InstrumentStore(backendStore, backend, otel.GetTracerProvider(), mp)
	if err != nil {
		return err
	}

	clients, err := openClients(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open client database: %w", err)
	}
	defer shutdownWith(logger, "client database", clients.close)

	projector, err := client.NewProjector(clients)
	if err != nil {
		return err
	}

	auditOpts := []audit.Option{audit.WithService(cfg.OtelServiceName)}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		auditOpts = append(auditOpts, audit.WithWriter(audit.NewKafkaWriter(brokers, cfg.KafkaAuditTopic)))
	}
	auditor := audit.NewLogger(logger.With().Str("component", "audit").Logger(), auditOpts...)
	defer func() {
		if err := auditor.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close audit publisher")
		}
	}()

	provider, err := oidcstore.NewProvider(store, projector, oidcstore.WithAuditor(auditor))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           echoapi.NewAdapterAPI(provider, reg, logger).NewServer(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("backend", backend).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func shutdownWith(logger zerolog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		logger.Error().Err(err).Msgf("failed to shut down %s", what)
	}
}
