package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "COSTATLAS"

const (
	DriverMemory = "memory"
	DriverDuckDB = "duckdb"

	ConnectorReal = "real"
	ConnectorMock = "mock"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Connectors    ConnectorsConfig    `mapstructure:"connectors"`
	Linking       LinkingConfig       `mapstructure:"linking"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Alarms        AlarmsConfig        `mapstructure:"alarms"`
	Normalization NormalizationConfig `mapstructure:"normalization"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	Path    string `mapstructure:"path"`
	Threads int    `mapstructure:"threads"`
}

type ConnectorsConfig struct {
	// AWS, GCP and Azure select "real" or "mock" per provider.
	AWS   string `mapstructure:"aws"`
	GCP   string `mapstructure:"gcp"`
	Azure string `mapstructure:"azure"`

	AWSRegion         string        `mapstructure:"aws_region"`
	PlatformPrincipal string        `mapstructure:"platform_principal"`
	SessionName       string        `mapstructure:"session_name"`
	SessionDuration   time.Duration `mapstructure:"session_duration"`
	GCPBillingDataset string        `mapstructure:"gcp_billing_dataset"`

	Retry RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

type LinkingConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type IngestionConfig struct {
	Workers      int `mapstructure:"workers"`
	LookbackDays int `mapstructure:"lookback_days"`
	BackfillDays int `mapstructure:"backfill_days"`
	QueueSize    int `mapstructure:"queue_size"`
}

type AlarmsConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	ForecastWindowDays  int           `mapstructure:"forecast_window_days"`
	DefaultStdDevs      float64       `mapstructure:"default_std_devs"`
	DefaultTrailingDays int           `mapstructure:"default_trailing_days"`
}

type NormalizationConfig struct {
	RatesFile string `mapstructure:"rates_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", DriverDuckDB)
	v.SetDefault("storage.path", "cost-atlas.db")
	v.SetDefault("storage.threads", 4)

	v.SetDefault("connectors.aws", ConnectorReal)
	v.SetDefault("connectors.gcp", ConnectorReal)
	v.SetDefault("connectors.azure", ConnectorReal)
	v.SetDefault("connectors.aws_region", "us-east-1")
	v.SetDefault("connectors.platform_principal", "")
	v.SetDefault("connectors.session_name", "cost-atlas")
	v.SetDefault("connectors.session_duration", 15*time.Minute)
	v.SetDefault("connectors.gcp_billing_dataset", "billing_export")
	v.SetDefault("connectors.retry.attempts", 5)
	v.SetDefault("connectors.retry.base_delay", 500*time.Millisecond)
	v.SetDefault("connectors.retry.max_delay", 30*time.Second)

	v.SetDefault("linking.ttl", 24*time.Hour)
	v.SetDefault("linking.finalize_timeout", 10*time.Second)
	v.SetDefault("linking.sweep_interval", 5*time.Minute)

	v.SetDefault("ingestion.workers", 4)
	v.SetDefault("ingestion.lookback_days", 3)
	v.SetDefault("ingestion.backfill_days", 30)
	v.SetDefault("ingestion.queue_size", 64)

	v.SetDefault("alarms.interval", 15*time.Minute)
	v.SetDefault("alarms.forecast_window_days", 7)
	v.SetDefault("alarms.default_std_devs", 2.0)
	v.SetDefault("alarms.default_trailing_days", 14)

	v.SetDefault("normalization.rates_file", "")
}

// LoadConfig reads the optional file at path, then applies COSTATLAS_* environment
// overrides (COSTATLAS_STORAGE_DRIVER, COSTATLAS_LINKING_TTL, ...).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverDuckDB:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	for name, mode := range map[string]string{
		"aws":   c.Connectors.AWS,
		"gcp":   c.Connectors.GCP,
		"azure": c.Connectors.Azure,
	} {
		if mode != ConnectorReal && mode != ConnectorMock {
			return fmt.Errorf("connector %s: unknown mode %q", name, mode)
		}
	}

	if c.Ingestion.Workers < 1 {
		return fmt.Errorf("ingestion workers must be positive, got %d", c.Ingestion.Workers)
	}
	if c.Connectors.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be positive, got %d", c.Connectors.Retry.Attempts)
	}
	if c.Linking.TTL <= 0 || c.Linking.FinalizeTimeout <= 0 {
		return fmt.Errorf("linking ttl and finalize timeout must be positive")
	}
	if c.Alarms.ForecastWindowDays < 7 {
		return fmt.Errorf("forecast window must be at least 7 days, got %d", c.Alarms.ForecastWindowDays)
	}
	return nil
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
