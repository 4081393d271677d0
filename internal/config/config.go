// Package config manages application configuration from environment variables,
// config files, and default values.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration. Values can be set through an
// optional config.yaml or through the environment keys named in the
// mapstructure tags (TELEGRAM_BOT_TOKEN, TARGET_CHAT, DIGEST_HOUR, ...).
type Config struct {
	// Telegram settings
	BotToken   string `mapstructure:"telegram_bot_token" validate:"required"`
	TargetChat string `mapstructure:"target_chat"        validate:"required"`

	// Digest schedule (local time)
	DigestHour   int `mapstructure:"digest_hour"   validate:"min=0,max=23"`
	DigestMinute int `mapstructure:"digest_minute" validate:"min=0,max=59"`

	// Aggregation window
	WindowHours int `mapstructure:"window_hours" validate:"min=1,max=168"`

	// Storage
	DBPath string `mapstructure:"db_path" validate:"required"`

	// Logging settings
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Window returns the aggregation window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// envKeys maps each config field to its environment variable.
var envKeys = map[string]string{
	"telegram_bot_token": "TELEGRAM_BOT_TOKEN",
	"target_chat":        "TARGET_CHAT",
	"digest_hour":        "DIGEST_HOUR",
	"digest_minute":      "DIGEST_MINUTE",
	"window_hours":       "WINDOW_HOURS",
	"db_path":            "DB_PATH",
	"log_level":          "LOG_LEVEL",
	"log_json":           "LOG_JSON",
}

// Load reads configuration from defaults, an optional config.yaml in the
// working directory, and environment variables, then validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("digest_hour", 9)
	v.SetDefault("digest_minute", 0)
	v.SetDefault("window_hours", 24)
	v.SetDefault("db_path", "ticker_digest.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable %s: %w", env, err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Config file is optional; environment alone is a valid setup.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
