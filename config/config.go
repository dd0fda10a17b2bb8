// Package config loads process configuration from the environment and an
// optional invdash.yaml file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invdash/backend/logging"
	"github.com/invdash/backend/postgres"
	"github.com/spf13/viper"
)

const configName = "invdash"

// Config holds every setting the process reads at startup. Keys map one to
// one onto environment variables (db_host is DB_HOST).
type Config struct {
	// DBHost is the database server host.
	DBHost string `mapstructure:"db_host" validate:"required"`
	// DBPort is the database server port.
	DBPort int `mapstructure:"db_port" validate:"min=1,max=65535"`
	// DBName is the database to connect to.
	DBName string `mapstructure:"db_name" validate:"required"`
	// DBUser is the login role.
	DBUser string `mapstructure:"db_user" validate:"required"`
	// DBPassword is the login password. It may be empty for trust or peer auth.
	DBPassword string `mapstructure:"db_password"`
	// DBSSL turns TLS on without certificate verification.
	DBSSL bool `mapstructure:"db_ssl"`
	// DBSSLMode overrides DBSSL with an explicit libpq sslmode when set.
	DBSSLMode string `mapstructure:"db_sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	// DBPoolMax is the upper bound on simultaneously open connections.
	DBPoolMax int32 `mapstructure:"db_pool_max" validate:"gt=0"`
	// DBIdleTimeoutMS closes connections idle for longer, in milliseconds.
	DBIdleTimeoutMS int `mapstructure:"db_idle_timeout_ms" validate:"gt=0"`
	// DBConnectionTimeoutMS bounds connection establishment, in milliseconds.
	DBConnectionTimeoutMS int `mapstructure:"db_connection_timeout_ms" validate:"gt=0"`
	// DBAcquireTimeoutMS bounds the wait for a free connection; zero uses DBConnectionTimeoutMS.
	DBAcquireTimeoutMS int `mapstructure:"db_acquire_timeout_ms" validate:"gte=0"`
	// DBStatementTimeoutMS is sent as the server-side statement_timeout; zero leaves the server default.
	DBStatementTimeoutMS int `mapstructure:"db_statement_timeout_ms" validate:"gte=0"`
	// DBPoolErrorPolicy selects what happens on a pool-level error: fatal or log.
	DBPoolErrorPolicy string `mapstructure:"db_pool_error_policy" validate:"oneof=fatal log"`
	// DBPoolMonitorIntervalMS is how often the pool is pinged; zero disables the monitor.
	DBPoolMonitorIntervalMS int `mapstructure:"db_pool_monitor_interval_ms" validate:"gte=0"`

	// PoolStatsSchedule is the cron schedule for logging pool usage; empty disables it.
	PoolStatsSchedule string `mapstructure:"pool_stats_schedule"`

	// HTTPAddr is the listen address of the health server.
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	// HTTPShutdownTimeoutMS bounds graceful shutdown, in milliseconds.
	HTTPShutdownTimeoutMS int `mapstructure:"http_shutdown_timeout_ms" validate:"gt=0"`

	// LogLevel is one of trace, debug, info, warn or error.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	// LogFormat is console or json.
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`
	// LogFile additionally writes logs to a rotated file when set.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration from, in order of precedence, environment
// variables, the config file and built-in defaults. If path is empty the
// file is searched for as invdash.yaml in the working directory and ./configs,
// and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Every key needs a default, even an empty one, so Unmarshal sees values
// that only exist in the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_ssl", false)
	v.SetDefault("db_sslmode", "")
	v.SetDefault("db_pool_max", postgres.DefaultPoolMaxConnections)
	v.SetDefault("db_idle_timeout_ms", postgres.DefaultPoolMaxConnIdleTime.Milliseconds())
	v.SetDefault("db_connection_timeout_ms", postgres.DefaultConnectTimeout.Milliseconds())
	v.SetDefault("db_acquire_timeout_ms", 0)
	v.SetDefault("db_statement_timeout_ms", 0)
	v.SetDefault("db_pool_error_policy", string(postgres.PoolErrorPolicyFatal))
	v.SetDefault("db_pool_monitor_interval_ms", postgres.DefaultPoolMonitorInterval.Milliseconds())
	v.SetDefault("pool_stats_schedule", "@every 5m")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("http_shutdown_timeout_ms", 10000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", string(logging.FormatConsole))
	v.SetDefault("log_file", "")
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// PostgresOptions converts the database settings into connection manager
// options.
func (c *Config) PostgresOptions() []postgres.Option {
	opts := []postgres.Option{
		postgres.WithHost(c.DBHost),
		postgres.WithPort(c.DBPort),
		postgres.WithDatabase(c.DBName),
		postgres.WithUser(c.DBUser),
		postgres.WithPassword(c.DBPassword),
		postgres.WithTLS(c.DBSSL),
		postgres.WithPoolMaxConnections(c.DBPoolMax),
		postgres.WithPoolMaxConnectionIdleTime(millis(c.DBIdleTimeoutMS)),
		postgres.WithConnectTimeout(millis(c.DBConnectionTimeoutMS)),
		postgres.WithAcquireTimeout(millis(c.DBAcquireTimeoutMS)),
		postgres.WithStatementTimeout(millis(c.DBStatementTimeoutMS)),
		postgres.WithPoolErrorPolicy(postgres.PoolErrorPolicy(c.DBPoolErrorPolicy)),
	}

	if c.DBSSLMode != "" {
		opts = append(opts, postgres.WithSSLMode(postgres.SSLMode(c.DBSSLMode)))
	}

	if c.DBPoolMonitorIntervalMS == 0 {
		opts = append(opts, postgres.WithPoolMonitorDisabled())
	} else {
		opts = append(opts, postgres.WithPoolMonitorInterval(millis(c.DBPoolMonitorIntervalMS)))
	}

	return opts
}

// LoggingOptions converts the log settings into logger options.
func (c *Config) LoggingOptions() []logging.Option {
	opts := []logging.Option{
		logging.WithLevel(c.LogLevel),
		logging.WithFormat(logging.Format(c.LogFormat)),
	}

	if c.LogFile != "" {
		opts = append(opts, logging.WithFile(c.LogFile))
	}

	return opts
}

// ShutdownTimeout is HTTPShutdownTimeoutMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return millis(c.HTTPShutdownTimeoutMS)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
