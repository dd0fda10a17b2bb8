// Package postgres is the connection manager for the invdash backend. It
// owns the single PostgreSQL connection pool of the process and is the only
// way the rest of the backend talks to the database.
//
// It uses pgx v5 with connection pooling (pgxpool). The pool is created
// lazily: constructing a [Client] performs no I/O, and the first call to
// [Client.Pool] (or any operation that needs the pool) creates it.
//
// # Usage
//
// Create a client once at startup using [New] with functional options and
// pass it to every component that needs the database:
//
//	db := postgres.New(logger,
//	    postgres.WithHost("localhost"),
//	    postgres.WithPort(5432),
//	    postgres.WithUser("postgres"),
//	    postgres.WithPassword("secret"),
//	    postgres.WithDatabase("inventory"),
//	    postgres.WithTLS(false),
//	)
//	defer db.Close(ctx)
//
//	if !db.TestConnection(ctx) {
//	    return errors.New("database unreachable")
//	}
//
//	res, err := db.Query(ctx, "SELECT id, name FROM products WHERE stock < $1", 10)
//
//	err = db.RunTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
//	    _, err := tx.Exec(ctx, "UPDATE products SET stock = stock - $1 WHERE id = $2", 1, id)
//	    return err
//	})
//
// # Pool Lifecycle
//
// The pool moves from [PoolStateUninitialized] to [PoolStateActive] on first
// use and to [PoolStateClosed] on [Client.Close]. Closed is terminal: every
// operation afterwards fails with [ErrClosed].
//
// # Connection Pool
//
// Defaults are 20 connections, a 30 second idle timeout and a 2 second
// connect timeout. They can be tuned with [WithPoolMaxConnections],
// [WithPoolMinConnections], [WithPoolMaxConnectionIdleTime],
// [WithPoolMaxConnectionLifetime], [WithPoolHealthCheckPeriod],
// [WithConnectTimeout] and [WithStatementTimeout].
//
// When every connection is checked out, an operation waits for one to be
// returned for at most the acquire timeout ([WithAcquireTimeout], by default
// the connect timeout) and then fails with [ErrAcquireTimeout], even if ctx
// has no deadline. A transaction keeps its connection until it commits or
// rolls back. Code that uses the raw pool from [Client.Pool] is not bounded.
//
// # Pool Errors
//
// Pool-level errors come from a background monitor that pings the pool
// periodically ([WithPoolMonitorInterval], [WithPoolMonitorDisabled]). A tick
// is skipped while every connection is checked out. Dead connections that
// pgxpool finds on acquire are replaced silently and are not reported.
//
// Pool errors are logged and, under the default [PoolErrorPolicyFatal],
// delivered on [Client.Fatal] wrapped in [ErrPoolFatal]. The package never
// exits the process itself; the owner decides. [PoolErrorPolicyLog] only
// logs, and [WithPoolErrorHandler] replaces the policy with a callback that
// runs on its own goroutine and may call [Client.Close].
//
// # Errors
//
// Query and transaction errors are logged and returned wrapped, so
// errors.Is and errors.As see the underlying pgx error. A transaction whose
// rollback fails after the unit of work failed returns a [*RollbackError]
// that unwraps to both errors. Only [Client.TestConnection] swallows errors,
// reporting a plain bool for health checks.
//
// # SSL
//
// SSL behaviour is controlled by [WithSSLMode] using the [SSLMode] constants
// ([SSLModeDisable], [SSLModeAllow], [SSLModePrefer], [SSLModeRequire],
// [SSLModeVerifyCA], [SSLModeVerifyFull]). The default is [SSLModePrefer].
// [WithTLS] is a shorthand for [SSLModeRequire] or [SSLModeDisable].
package postgres
