package postgres

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

const DefaultPoolMaxConnections int32 = 20

const (
	DefaultPoolMaxConnIdleTime = 30 * time.Second
	DefaultConnectTimeout      = 2 * time.Second
	DefaultPoolMonitorInterval = 30 * time.Second
	DefaultApplicationName     = "invdash"
)

const (
	livenessQuery                = "SELECT 1"
	statementTimeoutRuntimeParam = "statement_timeout"
	applicationNameRuntimeParam  = "application_name"
)

// SSLMode represents PostgreSQL SSL connection modes.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"     // No SSL
	SSLModeAllow      SSLMode = "allow"       // Try non-SSL first, then SSL
	SSLModePrefer     SSLMode = "prefer"      // Try SSL first, then non-SSL (default)
	SSLModeRequire    SSLMode = "require"     // Only SSL (no certificate verification)
	SSLModeVerifyCA   SSLMode = "verify-ca"   // SSL with CA verification
	SSLModeVerifyFull SSLMode = "verify-full" // SSL with CA and hostname verification
)

// PoolErrorPolicy decides what happens after a pool-level error has been logged.
type PoolErrorPolicy string

const (
	// PoolErrorPolicyFatal reports the error on [Client.Fatal] so the owning
	// process can shut down.
	PoolErrorPolicyFatal PoolErrorPolicy = "fatal"
	// PoolErrorPolicyLog only logs the error.
	PoolErrorPolicyLog PoolErrorPolicy = "log"
)

// Option is a functional option for configuring a Client.
type Option func(*options)

type options struct {
	host                      string
	port                      int
	user                      string
	password                  string
	database                  string
	sslMode                   SSLMode
	applicationName           string
	poolMaxConnections        int32
	poolMinConnections        int32
	poolMaxConnectionIdleTime time.Duration
	poolMaxConnectionLifetime *time.Duration
	poolHealthCheckPeriod     *time.Duration
	connectTimeout            time.Duration
	acquireTimeout            time.Duration
	statementTimeout          time.Duration
	poolErrorPolicy           PoolErrorPolicy
	poolErrorHandler          func(error)
	poolMonitorInterval       *time.Duration
}

func newOptions() *options {
	defaultMonitorInterval := DefaultPoolMonitorInterval

	return &options{
		host:                      "localhost",
		port:                      5432,
		sslMode:                   SSLModePrefer,
		applicationName:           DefaultApplicationName,
		poolMaxConnections:        DefaultPoolMaxConnections,
		poolMaxConnectionIdleTime: DefaultPoolMaxConnIdleTime,
		connectTimeout:            DefaultConnectTimeout,
		poolErrorPolicy:           PoolErrorPolicyFatal,
		poolMonitorInterval:       &defaultMonitorInterval,
	}
}

func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

func WithUser(user string) Option {
	return func(o *options) { o.user = user }
}

func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

func WithDatabase(database string) Option {
	return func(o *options) { o.database = database }
}

func WithSSLMode(mode SSLMode) Option {
	return func(o *options) { o.sslMode = mode }
}

// WithTLS switches TLS on or off. When on, the connection is encrypted but the
// server certificate is not verified ([SSLModeRequire]); use [WithSSLMode]
// for verified modes.
func WithTLS(enabled bool) Option {
	return func(o *options) {
		if enabled {
			o.sslMode = SSLModeRequire
		} else {
			o.sslMode = SSLModeDisable
		}
	}
}

func WithApplicationName(name string) Option {
	return func(o *options) { o.applicationName = name }
}

// WithPoolMaxConnections bounds the number of simultaneously open
// connections. Defaults to 20.
func WithPoolMaxConnections(n int32) Option {
	return func(o *options) { o.poolMaxConnections = n }
}

func WithPoolMinConnections(n int32) Option {
	return func(o *options) { o.poolMinConnections = n }
}

// WithPoolMaxConnectionIdleTime sets how long a connection may sit idle before
// the pool closes it. Defaults to 30 seconds.
func WithPoolMaxConnectionIdleTime(d time.Duration) Option {
	return func(o *options) { o.poolMaxConnectionIdleTime = d }
}

func WithPoolMaxConnectionLifetime(d time.Duration) Option {
	return func(o *options) { o.poolMaxConnectionLifetime = &d }
}

func WithPoolHealthCheckPeriod(d time.Duration) Option {
	return func(o *options) { o.poolHealthCheckPeriod = &d }
}

// WithConnectTimeout bounds how long establishing a new connection may take.
// Defaults to 2 seconds.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithAcquireTimeout bounds how long an operation waits for a free connection
// when all of them are checked out. Zero, the default, uses the connect
// timeout.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) { o.acquireTimeout = d }
}

// WithStatementTimeout sets the server-side statement_timeout for every
// connection in the pool. Zero keeps the server default.
func WithStatementTimeout(d time.Duration) Option {
	return func(o *options) { o.statementTimeout = d }
}

func WithPoolErrorPolicy(policy PoolErrorPolicy) Option {
	return func(o *options) { o.poolErrorPolicy = policy }
}

// WithPoolErrorHandler installs a callback for pool-level errors. It replaces
// the configured [PoolErrorPolicy]. Each call runs on its own goroutine, so
// the callback may block or call [Client.Close].
func WithPoolErrorHandler(handler func(error)) Option {
	return func(o *options) { o.poolErrorHandler = handler }
}

// WithPoolMonitorInterval sets how often the background monitor pings the
// pool. Defaults to 30 seconds.
func WithPoolMonitorInterval(d time.Duration) Option {
	return func(o *options) { o.poolMonitorInterval = &d }
}

// WithPoolMonitorDisabled turns off the background pool monitor, which is the
// only source of pool-level errors. Failures then surface only as errors from
// the operations themselves.
func WithPoolMonitorDisabled() Option {
	return func(o *options) { o.poolMonitorInterval = nil }
}

func (o *options) validate() error {
	if o.port < 1 || o.port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", o.port)
	}

	if o.user == "" {
		return errors.New("user is required")
	}

	if o.database == "" {
		return errors.New("database is required")
	}

	if !o.sslMode.isValid() {
		return fmt.Errorf("invalid SSL mode: %s", o.sslMode)
	}

	if o.poolMaxConnections <= 0 {
		return errors.New("pool max connections must be greater than zero")
	}

	if o.poolMinConnections < 0 {
		return errors.New("pool min connections must not be negative")
	}

	if o.poolMinConnections > o.poolMaxConnections {
		return fmt.Errorf("pool min connections (%d) exceeds max connections (%d)", o.poolMinConnections, o.poolMaxConnections)
	}

	if o.poolMaxConnectionIdleTime <= 0 {
		return errors.New("pool max connection idle time must be greater than zero")
	}

	if o.poolMaxConnectionLifetime != nil && *o.poolMaxConnectionLifetime <= 0 {
		return errors.New("pool max connection lifetime must be greater than zero")
	}

	if o.poolHealthCheckPeriod != nil && *o.poolHealthCheckPeriod <= 0 {
		return errors.New("pool health check period must be greater than zero")
	}

	if o.connectTimeout <= 0 {
		return errors.New("connect timeout must be greater than zero")
	}

	if o.acquireTimeout < 0 {
		return errors.New("acquire timeout must not be negative")
	}

	if o.statementTimeout < 0 {
		return errors.New("statement timeout must not be negative")
	}

	if !o.poolErrorPolicy.isValid() {
		return fmt.Errorf("invalid pool error policy: %s", o.poolErrorPolicy)
	}

	if o.poolMonitorInterval != nil && *o.poolMonitorInterval <= 0 {
		return errors.New("pool monitor interval must be positive")
	}

	return nil
}

// isValid returns true if the SSL mode is a valid PostgreSQL SSL mode.
func (s SSLMode) isValid() bool {
	switch s {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

func (p PoolErrorPolicy) isValid() bool {
	return p == PoolErrorPolicyFatal || p == PoolErrorPolicyLog
}

func (o *options) connectionString() string {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.User(o.user),
		Host:     net.JoinHostPort(o.host, strconv.Itoa(o.port)),
		Path:     "/" + o.database,
		RawQuery: url.Values{"sslmode": {string(o.sslMode)}}.Encode(),
	}

	if o.password != "" {
		dsn.User = url.UserPassword(o.user, o.password)
	}

	return dsn.String()
}

func (o *options) acquireWait() time.Duration {
	if o.acquireTimeout > 0 {
		return o.acquireTimeout
	}

	return o.connectTimeout
}

// runtimeParams are sent as startup parameters on every new connection.
func (o *options) runtimeParams() map[string]string {
	params := map[string]string{}

	if o.applicationName != "" {
		params[applicationNameRuntimeParam] = o.applicationName
	}

	if o.statementTimeout > 0 {
		params[statementTimeoutRuntimeParam] = strconv.FormatInt(o.statementTimeout.Milliseconds(), 10)
	}

	return params
}
