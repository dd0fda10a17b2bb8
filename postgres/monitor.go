package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/semaphore"
)

// startMonitor must be called with c.mu held.
func (c *Client) startMonitor(conn Pool, slots *semaphore.Weighted) {
	if c.opts.poolMonitorInterval == nil || c.cancelMonitor != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.cancelMonitor = cancel
	c.monitorDone = done

	go func() {
		defer close(done)
		c.runPoolMonitor(ctx, conn, slots)
	}()
}

// stopMonitor must be called with c.mu held. It waits for the monitor
// goroutine to exit so no ping races the pool shutdown.
func (c *Client) stopMonitor() {
	if c.cancelMonitor == nil {
		return
	}

	c.cancelMonitor()
	<-c.monitorDone

	c.cancelMonitor = nil
	c.monitorDone = nil
}

func (c *Client) runPoolMonitor(ctx context.Context, conn Pool, slots *semaphore.Weighted) {
	interval := *c.opts.poolMonitorInterval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkPool(ctx, conn, slots, interval)
		}
	}
}

// checkPool skips the tick when every connection is checked out; the ping
// would otherwise compete with operations for a connection.
func (c *Client) checkPool(ctx context.Context, conn Pool, slots *semaphore.Weighted, timeout time.Duration) {
	if !slots.TryAcquire(1) {
		c.logger.Debug("Skipping Postgres pool health check, every connection is checked out")
		return
	}
	defer slots.Release(1)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return
		}

		c.reportPoolError(fmt.Errorf("pool health check failed: %w", err))
	}
}

// reportPoolError logs a pool-level error and dispatches it according to the
// configured handler or policy. It never blocks. The handler gets its own
// goroutine so it can call Close, which waits for the monitor to exit.
func (c *Client) reportPoolError(err error) {
	c.logger.Errorf("Postgres connection pool error: %v", err)

	if c.opts.poolErrorHandler != nil {
		go c.opts.poolErrorHandler(err)
		return
	}

	if c.opts.poolErrorPolicy != PoolErrorPolicyFatal {
		return
	}

	select {
	case c.fatalCh <- fmt.Errorf("%w: %w", ErrPoolFatal, err):
	default:
	}
}

func (c *Client) afterConnect(_ context.Context, conn *pgx.Conn) error {
	c.logger.WithField("pid", conn.PgConn().PID()).Debug("Postgres connection established")
	return nil
}

// prepareConn runs before a pooled connection is handed out. pgxpool has
// already pinged connections that sat idle for over a second, so this only
// catches one that died within the last second. It is discarded and pgxpool
// retries the acquire on another connection; it is not a pool-level error.
func (c *Client) prepareConn(_ context.Context, conn *pgx.Conn) (bool, error) {
	if conn.IsClosed() {
		c.logger.Warn("Discarding closed Postgres connection")
		return false, nil
	}

	c.logger.WithField("pid", conn.PgConn().PID()).Debug("Postgres connection acquired")

	return true, nil
}

func (c *Client) beforeClose(conn *pgx.Conn) {
	c.logger.WithField("pid", conn.PgConn().PID()).Debug("Postgres connection removed from pool")
}
