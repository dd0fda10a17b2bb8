package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Export internal symbols for testing.
// This file is only compiled during testing.

var (
	ExportValidate = func(opts ...Option) error {
		o := newOptions()
		for _, opt := range opts {
			opt(o)
		}

		return o.validate()
	}

	ExportConnectionString = func(opts ...Option) string {
		o := newOptions()
		for _, opt := range opts {
			opt(o)
		}

		return o.connectionString()
	}

	ExportRuntimeParams = func(opts ...Option) map[string]string {
		o := newOptions()
		for _, opt := range opts {
			opt(o)
		}

		return o.runtimeParams()
	}

	ExportErrNotConnected = errNotConnected
)

// SetPool installs p as the active pool, as if it had been created by the
// first call to Pool.
func (c *Client) SetPool(p Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activate(p)
}

// SetPoolFactory replaces the function used to create the pool.
func (c *Client) SetPoolFactory(f func(ctx context.Context, config *pgxpool.Config) (Pool, error)) {
	c.newPool = f
}

// PoolConfig returns the pgxpool configuration the Client would use.
func (c *Client) PoolConfig() (*pgxpool.Config, error) {
	return c.poolConfig()
}

// HasActiveMonitor returns true if the background pool monitor is running.
func (c *Client) HasActiveMonitor() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelMonitor != nil
}

// ReportPoolError feeds err through the pool error policy.
func (c *Client) ReportPoolError(err error) {
	c.reportPoolError(err)
}

// MonitorInterval returns the configured monitor interval, or zero if disabled.
func (c *Client) MonitorInterval() time.Duration {
	if c.opts.poolMonitorInterval == nil {
		return 0
	}

	return *c.opts.poolMonitorInterval
}

// CheckoutSlot reserves a connection slot the way every operation does.
func (c *Client) CheckoutSlot(ctx context.Context) (func(), error) {
	_, release, err := c.checkout(ctx)
	return release, err
}

// CheckPool runs a single monitor health check.
func (c *Client) CheckPool(ctx context.Context) {
	c.mu.Lock()
	conn, slots := c.conn, c.slots
	c.mu.Unlock()

	c.checkPool(ctx, conn, slots, time.Second)
}
