package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/invdash/backend/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"
)

const rollbackTimeout = 5 * time.Second

var (
	// ErrClosed is returned by every operation once [Client.Close] has run.
	ErrClosed = errors.New("postgres connection pool is closed")

	// ErrPoolFatal wraps every error delivered on [Client.Fatal].
	ErrPoolFatal = errors.New("fatal postgres connection pool error")

	// ErrAcquireTimeout is returned when every pooled connection stayed checked
	// out for the whole acquire timeout.
	ErrAcquireTimeout = errors.New("timed out waiting for a free postgres connection")

	errNotConnected = errors.New("postgres connection pool has not been created")
)

// Pool defines the database operations the Client needs from a connection
// pool. It is satisfied by *pgxpool.Pool and can be mocked for testing.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PoolState is the lifecycle state of the Client's connection pool.
type PoolState int

const (
	PoolStateUninitialized PoolState = iota
	PoolStateActive
	PoolStateClosed
)

func (s PoolState) String() string {
	switch s {
	case PoolStateUninitialized:
		return "uninitialized"
	case PoolStateActive:
		return "active"
	case PoolStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// TxFunc is a unit of work executed inside a transaction. All statements must
// go through tx so they run on the transaction's connection.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// RollbackError is returned by [Client.RunTransaction] when the unit of work
// failed and the rollback that followed failed as well.
type RollbackError struct {
	Err         error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("transaction failed: %v (rollback also failed: %v)", e.Err, e.RollbackErr)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.RollbackErr}
}

type poolFactory func(ctx context.Context, config *pgxpool.Config) (Pool, error)

func newPgxPool(ctx context.Context, config *pgxpool.Config) (Pool, error) {
	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Client owns the process-wide PostgreSQL connection pool. Create one with
// [New] at startup and share it; the pool itself is created on first use.
// All methods are safe for concurrent use.
type Client struct {
	mu            sync.Mutex
	conn          Pool
	slots         *semaphore.Weighted
	state         PoolState
	opts          *options
	logger        logging.Logger
	newPool       poolFactory
	fatalCh       chan error
	cancelMonitor context.CancelFunc
	monitorDone   chan struct{}
}

// New creates a Client. It performs no I/O; the pool is created by the first
// call to [Client.Pool] or any operation that needs it.
func New(logger logging.Logger, opts ...Option) *Client {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	if logger == nil {
		logger = logging.Nop()
	}

	return &Client{
		opts:    o,
		logger:  logger.WithField("component", "postgres"),
		newPool: newPgxPool,
		fatalCh: make(chan error, 1),
	}
}

// Pool returns the shared connection pool, creating it on the first call.
// Concurrent first calls create exactly one pool. After [Client.Close] it
// returns [ErrClosed].
//
//nolint:ireturn // Pool is an interface so tests can substitute pgxmock
func (c *Client) Pool(ctx context.Context) (Pool, error) {
	conn, _, err := c.pool(ctx)
	return conn, err
}

func (c *Client) pool(ctx context.Context) (Pool, *semaphore.Weighted, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case PoolStateActive:
		return c.conn, c.slots, nil
	case PoolStateClosed:
		return nil, nil, ErrClosed
	case PoolStateUninitialized:
	}

	if err := c.opts.validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid Postgres db configuration: %w", err)
	}

	config, err := c.poolConfig()
	if err != nil {
		return nil, nil, err
	}

	conn, err := c.newPool(ctx, config)
	if err != nil {
		c.logger.Errorf("Failed to create Postgres connection pool: %v", err)
		return nil, nil, fmt.Errorf("failed to create new Postgres connection pool: %w", err)
	}

	c.activate(conn)

	c.logger.WithFields(map[string]any{
		"host":            c.opts.host,
		"database":        c.opts.database,
		"max_conns":       c.opts.poolMaxConnections,
		"max_idle_time":   c.opts.poolMaxConnectionIdleTime.String(),
		"connect_timeout": c.opts.connectTimeout.String(),
		"acquire_timeout": c.opts.acquireWait().String(),
	}).Info("Postgres connection pool created")

	return conn, c.slots, nil
}

// activate must be called with c.mu held.
func (c *Client) activate(conn Pool) {
	c.conn = conn
	c.slots = semaphore.NewWeighted(int64(c.opts.poolMaxConnections))
	c.state = PoolStateActive
	c.startMonitor(conn, c.slots)
}

// checkout reserves one of the pool's connections for a single operation.
// Every operation of the Client holds a slot for as long as it holds a
// connection, so waiting for a slot is waiting for a connection. The wait is
// bounded by the acquire timeout even when ctx has no deadline. release must
// be called after the connection is back in the pool.
//
//nolint:ireturn // Pool is an interface so tests can substitute pgxmock
func (c *Client) checkout(ctx context.Context) (Pool, func(), error) {
	conn, slots, err := c.pool(ctx)
	if err != nil {
		return nil, nil, err
	}

	timeout := c.opts.acquireWait()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := slots.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("failed to acquire Postgres connection: %w", ctxErr)
		}

		c.logger.WithField("max_conns", c.opts.poolMaxConnections).Errorf("No Postgres connection became free within %s", timeout)

		return nil, nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, timeout)
	}

	return conn, func() { slots.Release(1) }, nil
}

func (c *Client) poolConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.opts.connectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres db connection string: %w", err)
	}

	config.MaxConns = c.opts.poolMaxConnections
	config.MinConns = c.opts.poolMinConnections
	config.MaxConnIdleTime = c.opts.poolMaxConnectionIdleTime

	if c.opts.poolMaxConnectionLifetime != nil {
		config.MaxConnLifetime = *c.opts.poolMaxConnectionLifetime
	}

	if c.opts.poolHealthCheckPeriod != nil {
		config.HealthCheckPeriod = *c.opts.poolHealthCheckPeriod
	}

	config.ConnConfig.ConnectTimeout = c.opts.connectTimeout

	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}

	maps.Copy(config.ConnConfig.RuntimeParams, c.opts.runtimeParams())

	config.AfterConnect = c.afterConnect
	config.PrepareConn = c.prepareConn
	config.BeforeClose = c.beforeClose

	return config, nil
}

// State reports the current pool lifecycle state.
func (c *Client) State() PoolState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Fatal delivers pool-level errors when the policy is [PoolErrorPolicyFatal].
// The owning process should shut down after receiving from it.
func (c *Client) Fatal() <-chan error {
	return c.fatalCh
}

// TestConnection runs a liveness query on a pooled connection. It never
// returns an error; failures are logged and reported as false.
func (c *Client) TestConnection(ctx context.Context) bool {
	conn, release, err := c.checkout(ctx)
	if err != nil {
		c.logger.Errorf("Postgres connectivity check failed: %v", err)
		return false
	}
	defer release()

	var alive int

	if err := conn.QueryRow(ctx, livenessQuery).Scan(&alive); err != nil {
		c.logger.Errorf("Postgres connectivity check failed: %v", err)
		return false
	}

	c.logger.Debug("Postgres connectivity check succeeded")

	return true
}

// Query runs a parameterized statement and returns all of its rows. The rows
// are read and closed before Query returns, so the connection is back in the
// pool whether or not the call succeeds. args must match the $n placeholders
// in sql positionally.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	conn, release, err := c.checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, c.statementFailed(sql, err)
	}

	// Field descriptions are only valid until the rows are closed.
	columns := columnNames(rows.FieldDescriptions())

	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, c.statementFailed(sql, err)
	}

	result := newResult(columns, rows.CommandTag(), records)

	c.logger.WithFields(map[string]any{
		"query":    sql,
		"duration": time.Since(started).String(),
		"rows":     result.RowCount,
	}).Debug("Executed Postgres query")

	return result, nil
}

// Exec runs a statement that returns no rows and reports the number of rows
// it affected.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	conn, release, err := c.checkout(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	started := time.Now()

	tag, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, c.statementFailed(sql, err)
	}

	c.logger.WithFields(map[string]any{
		"query":    sql,
		"duration": time.Since(started).String(),
		"rows":     tag.RowsAffected(),
	}).Debug("Executed Postgres statement")

	return tag.RowsAffected(), nil
}

func (c *Client) statementFailed(sql string, err error) error {
	c.logger.WithField("query", sql).Errorf("Postgres query failed: %v", err)

	return fmt.Errorf("failed to execute Postgres query: %w", err)
}

// RunTransaction runs fn inside a transaction with default options.
func (c *Client) RunTransaction(ctx context.Context, fn TxFunc) error {
	return c.RunTransactionWithOptions(ctx, pgx.TxOptions{}, fn)
}

// RunTransactionWithOptions checks out one connection, begins a transaction
// and runs fn on it. If fn returns nil the transaction is committed. If fn
// returns an error or panics the transaction is rolled back and the error (or
// panic) is passed on unchanged; a failed rollback is reported as a
// [*RollbackError]. The connection is released on every path.
func (c *Client) RunTransactionWithOptions(ctx context.Context, txOptions pgx.TxOptions, fn TxFunc) error {
	if fn == nil {
		return errors.New("transaction function cannot be nil")
	}

	conn, release, err := c.checkout(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := conn.BeginTx(ctx, txOptions)
	if err != nil {
		c.logger.Errorf("Failed to begin Postgres transaction: %v", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = c.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		c.logger.Errorf("Postgres transaction failed, rolling back: %v", err)

		if rbErr := c.rollback(ctx, tx); rbErr != nil {
			return &RollbackError{Err: err, RollbackErr: rbErr}
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		c.logger.Errorf("Failed to commit Postgres transaction: %v", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// rollback runs even when ctx is already cancelled.
func (c *Client) rollback(ctx context.Context, tx pgx.Tx) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		c.logger.Errorf("Failed to roll back Postgres transaction: %v", err)
		return err
	}

	return nil
}

// Stats returns a snapshot of pool usage. It returns an error if the pool has
// not been created yet or has been closed.
func (c *Client) Stats() (*PoolStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case PoolStateUninitialized:
		return nil, errNotConnected
	case PoolStateClosed:
		return nil, ErrClosed
	case PoolStateActive:
	}

	p, ok := c.conn.(*pgxpool.Pool)
	if !ok {
		return &PoolStats{MaxConns: c.opts.poolMaxConnections}, nil
	}

	return newPoolStats(p.Stat()), nil
}

// Close stops the pool monitor and closes every pooled connection. The
// Client cannot be used afterwards. Close is idempotent and is a no-op for
// the connection side when no pool was ever created.
//
// Closing the pool waits for checked-out connections to be returned. If ctx
// ends first Close returns its error; the Client is already closed and the
// pool finishes closing in the background.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()

	if c.state == PoolStateClosed {
		c.mu.Unlock()
		return nil
	}

	c.stopMonitor()

	c.state = PoolStateClosed
	conn := c.conn
	c.conn = nil
	c.slots = nil

	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		conn.Close()
	}()

	select {
	case <-done:
		c.logger.Info("Postgres connection pool closed")
		return nil
	case <-ctx.Done():
		c.logger.Warn("Postgres connection pool is still closing, connections are checked out")
		return fmt.Errorf("failed to close Postgres connection pool: %w", ctx.Err())
	}
}
