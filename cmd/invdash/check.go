package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/invdash/backend/postgres"
	"github.com/spf13/cobra"
)

const checkQuery = "SELECT NOW() AS now, current_database() AS database"

var errDatabaseUnreachable = errors.New("database is unreachable")

type checkClient interface {
	TestConnection(ctx context.Context) bool
	Query(ctx context.Context, sql string, args ...any) (*postgres.Result, error)
	Close(ctx context.Context) error
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify database connectivity and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			client := postgres.New(logger, append(cfg.PostgresOptions(), postgres.WithPoolMonitorDisabled())...)

			return runCheck(cmd.Context(), client, cmd.OutOrStdout())
		},
	}
}

// runCheck always shuts the pool down, whatever the outcome.
func runCheck(ctx context.Context, client checkClient, out io.Writer) (err error) {
	defer func() {
		if closeErr := client.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if !client.TestConnection(ctx) {
		fmt.Fprintln(out, "Database connection: FAILED")
		return errDatabaseUnreachable
	}

	fmt.Fprintln(out, "Database connection: OK")

	result, err := client.Query(ctx, checkQuery)
	if err != nil {
		return err
	}

	if len(result.Rows) == 0 {
		return errors.New("connectivity query returned no rows")
	}

	row := result.Rows[0]

	fmt.Fprintf(out, "Server time: %v\n", row["now"])
	fmt.Fprintf(out, "Database: %v\n", row["database"])

	return nil
}
