package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Partitions PartitionsConfig `yaml:"partitions" mapstructure:"partitions"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ExtractConfig configures the forecast API client.
type ExtractConfig struct {
	BaseURL         string   `yaml:"base_url" mapstructure:"base_url"`
	ForecastDays    int      `yaml:"forecast_days" mapstructure:"forecast_days"`
	HourlyVariables []string `yaml:"hourly_variables" mapstructure:"hourly_variables"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries      int      `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	LocationsFile   string   `yaml:"locations_file" mapstructure:"locations_file"`
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// PartitionsConfig configures partition lifecycle management.
type PartitionsConfig struct {
	HorizonMonths int `yaml:"horizon_months" mapstructure:"horizon_months"`
}

// ScheduleConfig configures the periodic pipeline run.
type ScheduleConfig struct {
	IntervalMins int `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WEATHERMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("extract.base_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("extract.forecast_days", 7)
	v.SetDefault("extract.timeout_secs", 30)
	v.SetDefault("extract.max_retries", 3)
	v.SetDefault("extract.user_agent", "weathermart/1.0")
	v.SetDefault("extract.locations_file", "locations.yaml")
	v.SetDefault("pipeline.max_concurrent", 4)
	v.SetDefault("partitions.horizon_months", 3)
	v.SetDefault("schedule.interval_mins", 60)

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
