package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Venues   VenueConfig    `mapstructure:"venues"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds persistence settings. Driver is "postgres" or
// "sqlite"; DSN is a postgres DSN or a sqlite file path.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// QueueConfig holds worker pool and retry settings
type QueueConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// RoutingConfig holds routing engine settings
type RoutingConfig struct {
	// ConcurrentQuotes toggles parallel venue quoting; sequential order
	// is the configured venue order when false.
	ConcurrentQuotes bool `mapstructure:"concurrent_quotes"`
}

// VenueConfig tunes the simulated venues. Rates are 0..1 probabilities,
// delays are milliseconds.
type VenueConfig struct {
	QuoteFailureRate   float64 `mapstructure:"quote_failure_rate"`
	ExecuteFailureRate float64 `mapstructure:"execute_failure_rate"`
	QuoteDelayMinMs    int     `mapstructure:"quote_delay_min_ms"`
	QuoteDelayMaxMs    int     `mapstructure:"quote_delay_max_ms"`
	ExecuteDelayMinMs  int     `mapstructure:"execute_delay_min_ms"`
	ExecuteDelayMaxMs  int     `mapstructure:"execute_delay_max_ms"`
	ExecutionDriftPct  float64 `mapstructure:"execution_drift_pct"`
}

// LoadConfig loads configuration from an optional yaml file and the
// environment (ORDEREXEC_ prefix, dots replaced by underscores).
func LoadConfig(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ORDEREXEC")

	setDefaults(v)

	if len(configPaths) == 0 {
		configPaths = []string{"./config.yaml", "./configs/config.yaml"}
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "orderexec.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.rate_per_minute", 100)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", 500*time.Millisecond)
	v.SetDefault("queue.poll_interval", 100*time.Millisecond)

	v.SetDefault("routing.concurrent_quotes", true)

	v.SetDefault("venues.quote_failure_rate", 0.03)
	v.SetDefault("venues.execute_failure_rate", 0.05)
	v.SetDefault("venues.quote_delay_min_ms", 120)
	v.SetDefault("venues.quote_delay_max_ms", 260)
	v.SetDefault("venues.execute_delay_min_ms", 1800)
	v.SetDefault("venues.execute_delay_max_ms", 2800)
	v.SetDefault("venues.execution_drift_pct", 0.015)
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" && cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive, got %d", cfg.Queue.Concurrency)
	}
	if cfg.Queue.RatePerMinute <= 0 {
		return fmt.Errorf("queue rate must be positive, got %d", cfg.Queue.RatePerMinute)
	}
	if cfg.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be positive, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Venues.QuoteFailureRate < 0 || cfg.Venues.QuoteFailureRate > 1 {
		return fmt.Errorf("venue quote failure rate must be within [0,1]")
	}
	if cfg.Venues.ExecuteFailureRate < 0 || cfg.Venues.ExecuteFailureRate > 1 {
		return fmt.Errorf("venue execute failure rate must be within [0,1]")
	}
	return nil
}
