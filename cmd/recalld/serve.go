package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/events"
	httpserver "github.com/fyrsmithlabs/recalld/internal/http"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long: `Start the HTTP API and, when events.enabled is set, the NATS intake.
Shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// runServe blocks until ctx is cancelled or the HTTP server fails.
func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting recalld",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout),
	)

	z := logger.Underlying()

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.New(ctx, &cfg.Telemetry, z.Named("telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			z.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer a.Close()

	var sub *events.Subscriber
	if cfg.Events.Enabled {
		var nc *nats.Conn
		nc, err = events.Connect(cfg.Events, z.Named("events"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()

		sub, err = events.NewSubscriber(nc, a.coordinator, cfg.Events, z.Named("events"))
		if err != nil {
			return err
		}
		if err := sub.Start(ctx); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Ingester:  a.coordinator,
		Records:   a.store,
		Assembler: a.assembler,
		Generator: a.generator,
	}, z.Named("http"), cfg.Server.HTTP())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if sub != nil {
		if err := sub.Stop(); err != nil {
			logger.Warn(shutdownCtx, "stopping event intake", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "shutdown complete")
	return nil
}
