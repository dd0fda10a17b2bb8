package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/invdash/backend/config"
	"github.com/invdash/backend/logging"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "invdash",
		Short:        "Inventory dashboard backend",
		Long:         `invdash is the inventory dashboard backend. It owns the shared PostgreSQL connection pool and reports database health.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file (default: ./invdash.yaml if present)")

	rootCmd.AddCommand(newCheckCmd(), newServeCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "invdash %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func bootstrap() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.LoggingOptions()...)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}
