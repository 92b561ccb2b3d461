// Package config loads application configuration from file and environment.
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Counter   CounterConfig   `yaml:"counter" mapstructure:"counter"`
	Plans     PlansConfig     `yaml:"plans" mapstructure:"plans"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Reply     ReplyConfig     `yaml:"reply" mapstructure:"reply"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the lead/job store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CounterConfig configures the shared counter store used for rate limiting
// and usage metering.
type CounterConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// PlansConfig configures the billing plan registry.
type PlansConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// RateLimitConfig configures abuse rate limiting on signal intake.
type RateLimitConfig struct {
	MaxPerWindow int  `yaml:"max_per_window" mapstructure:"max_per_window"`
	WindowSecs   int  `yaml:"window_secs" mapstructure:"window_secs"`
	FailClosed   bool `yaml:"fail_closed" mapstructure:"fail_closed"`
}

// ReplyConfig configures the best-effort reply generator.
type ReplyConfig struct {
	AnthropicKey string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPerSec    float64 `yaml:"max_per_sec" mapstructure:"max_per_sec"`
	Fallback     string  `yaml:"fallback" mapstructure:"fallback"`
}

// WorkerConfig configures the campaign dispatch worker.
type WorkerConfig struct {
	PollSecs    int `yaml:"poll_secs" mapstructure:"poll_secs"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the intake HTTP server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
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
	v.SetEnvPrefix("LEADINTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "lead-intake.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("counter.driver", "redis")
	v.SetDefault("counter.redis_url", "redis://localhost:6379/0")
	v.SetDefault("plans.file", "")
	v.SetDefault("rate_limit.max_per_window", 30)
	v.SetDefault("rate_limit.window_secs", 60)
	v.SetDefault("rate_limit.fail_closed", false)
	v.SetDefault("reply.anthropic_key", "")
	v.SetDefault("reply.model", "claude-haiku-4-5-20251001")
	v.SetDefault("reply.timeout_secs", 8)
	v.SetDefault("reply.max_per_sec", 5)
	v.SetDefault("reply.fallback", "Thanks for reaching out! One of our team will get back to you shortly.")
	v.SetDefault("worker.poll_secs", 5)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
