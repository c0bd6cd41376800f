package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// FetchConfig configures the download engine.
type FetchConfig struct {
	BaseURL            string        `yaml:"base_url" mapstructure:"base_url"`
	OutputDir          string        `yaml:"output_dir" mapstructure:"output_dir"`
	MinRequestInterval time.Duration `yaml:"min_request_interval" mapstructure:"min_request_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	Concurrency        int           `yaml:"concurrency" mapstructure:"concurrency"`
	ChunkSize          int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	UserAgent          string        `yaml:"user_agent" mapstructure:"user_agent"`
	VerifyExisting     bool          `yaml:"verify_existing" mapstructure:"verify_existing"`
}

// RetryConfig configures caller-side retry rounds for transient failures.
type RetryConfig struct {
	Rounds         int           `yaml:"rounds" mapstructure:"rounds"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// LedgerConfig configures the run ledger backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig configures the prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// MonitoringConfig configures failure alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// Ledger drivers.
const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerNone     = "none"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ONTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("fetch.base_url", "https://transtats.bts.gov/PREZIP/")
	v.SetDefault("fetch.output_dir", "data")
	v.SetDefault("fetch.min_request_interval", time.Second)
	v.SetDefault("fetch.request_timeout", 300*time.Second)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.chunk_size", 8192)
	v.SetDefault("fetch.user_agent", "ontime-cli/1.0")
	v.SetDefault("fetch.verify_existing", false)
	v.SetDefault("retry.rounds", 0)
	v.SetDefault("retry.initial_backoff", 30*time.Second)
	v.SetDefault("retry.max_backoff", 5*time.Minute)
	v.SetDefault("ledger.driver", LedgerSQLite)
	v.SetDefault("ledger.database_url", "ontime.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "fetch" (download plus ledger, retry and alerting), "plan" (planning only)
// or "ledger" (history queries).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "fetch":
		errs = append(errs, c.validateFetch()...)
		errs = append(errs, c.validateLedger()...)
		if c.Retry.Rounds < 0 {
			errs = append(errs, "retry.rounds must be >= 0")
		}
		if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
			errs = append(errs, "retry backoff durations must be >= 0")
		}
		if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	case "plan":
		errs = append(errs, c.validateBaseURL()...)
		if c.Fetch.OutputDir == "" {
			errs = append(errs, "fetch.output_dir is required")
		}
	case "ledger":
		errs = append(errs, c.validateLedger()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateFetch() []string {
	errs := c.validateBaseURL()
	if c.Fetch.OutputDir == "" {
		errs = append(errs, "fetch.output_dir is required")
	}
	if c.Fetch.Concurrency <= 0 {
		errs = append(errs, "fetch.concurrency must be > 0")
	}
	if c.Fetch.ChunkSize <= 0 {
		errs = append(errs, "fetch.chunk_size must be > 0")
	}
	if c.Fetch.MinRequestInterval < 0 {
		errs = append(errs, "fetch.min_request_interval must be >= 0")
	}
	if c.Fetch.RequestTimeout <= 0 {
		errs = append(errs, "fetch.request_timeout must be > 0")
	}
	return errs
}

func (c *Config) validateBaseURL() []string {
	u, err := url.Parse(c.Fetch.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []string{"fetch.base_url must be an absolute URL"}
	}
	return nil
}

func (c *Config) validateLedger() []string {
	switch c.Ledger.Driver {
	case LedgerSQLite, LedgerPostgres:
		if c.Ledger.DatabaseURL == "" {
			return []string{"ledger.database_url is required"}
		}
	case LedgerNone:
	default:
		return []string{"ledger.driver must be one of sqlite, postgres, none"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
