package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/invdash/backend/health"
	"github.com/invdash/backend/logging"
	"github.com/invdash/backend/postgres"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const readHeaderTimeout = 5 * time.Second

type supervisedClient interface {
	health.Checker
	Fatal() <-chan error
	Close(ctx context.Context) error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health server until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			logger.WithFields(map[string]any{
				"version": version,
				"addr":    cfg.HTTPAddr,
				"db_host": cfg.DBHost,
				"db_name": cfg.DBName,
			}).Info("Starting invdash")

			client := postgres.New(logger, cfg.PostgresOptions()...)

			if cfg.PoolStatsSchedule != "" {
				reporter, err := health.NewStatsReporter(client, cfg.PoolStatsSchedule, logger)
				if err != nil {
					return err
				}

				reporter.Start()
				defer reporter.Stop()
			}

			return runServe(cmd.Context(), cfg.HTTPAddr, cfg.ShutdownTimeout(), client, logger)
		},
	}
}

// runServe serves health endpoints until ctx is cancelled or the pool
// reports a fatal error, then shuts the server down and closes the pool.
func runServe(ctx context.Context, addr string, shutdownTimeout time.Duration, client supervisedClient, logger logging.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           health.NewHandler(client, logger).Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Create the pool eagerly so a bad configuration is visible at startup.
	if !client.TestConnection(ctx) {
		logger.Warn("Database is not reachable at startup")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Health server listening on %s", ln.Addr())

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		select {
		case err := <-client.Fatal():
			logger.Errorf("Shutting down after fatal pool error: %v", err)
			return err
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("Shutting down health server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if closeErr := client.Close(closeCtx); closeErr != nil {
		logger.Errorf("Failed to close Postgres connection pool: %v", closeErr)
	}

	logger.Info("invdash stopped")

	return err
}
