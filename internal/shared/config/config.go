package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Collab  CollabConfig  `mapstructure:"collab"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// CollabConfig holds real-time collaboration configuration.
type CollabConfig struct {
	// Enabled toggles the collaboration feature; when false the host runs
	// without the websocket endpoint instead of failing startup.
	Enabled bool `mapstructure:"enabled"`
	// Path is the websocket endpoint path.
	Path string `mapstructure:"path"`
	// BaseURL is the public base URL used to build share links.
	BaseURL string `mapstructure:"base_url"`
	// HistoryLimit caps the message snapshot sent on join.
	HistoryLimit int `mapstructure:"history_limit"`
	// SendBuffer is the per-connection outbound frame buffer.
	SendBuffer int `mapstructure:"send_buffer"`
	// SeedDemo seeds one demo project at startup.
	SeedDemo bool `mapstructure:"seed_demo"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pagecraft")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("PAGECRAFT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("collab.enabled", true)
	v.SetDefault("collab.path", "/ws/collaboration")
	v.SetDefault("collab.base_url", "http://localhost:8080")
	v.SetDefault("collab.history_limit", 50)
	v.SetDefault("collab.send_buffer", 128)
	v.SetDefault("collab.seed_demo", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
}
