package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
	Mapping       MappingConfig       `mapstructure:"mapping"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Diagnostics   DiagnosticsConfig   `mapstructure:"diagnostics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type HomeAssistantConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// MappingConfig controls where declarative mapping documents are loaded from.
// Built-in documents are embedded in the binary; UserDir is searched
// recursively and its rules outrank the built-in set.
type MappingConfig struct {
	UserDir string `mapstructure:"user_dir"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type SyncConfig struct {
	DebounceWindow     string `mapstructure:"debounce_window"`
	EventBufferSize    int    `mapstructure:"event_buffer_size"`
	FullResyncSchedule string `mapstructure:"full_resync_schedule"`
}

type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from config.yaml (searched in ./configs, /etc/ha-connector
// and the working directory) with HACON_* environment variable overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/ha-connector")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.HomeAssistant.URL == "" {
		return nil, fmt.Errorf("home_assistant.url is required")
	}
	if cfg.HomeAssistant.Token == "" {
		return nil, fmt.Errorf("home_assistant.token is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "./data/connector.db")
	v.SetDefault("database.migrations_path", "./migrations")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("mapping.user_dir", "./configs/mappings")

	v.SetDefault("sync.debounce_window", "500ms")
	v.SetDefault("sync.event_buffer_size", 100)
	v.SetDefault("sync.full_resync_schedule", "@every 1h")

	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.host", "0.0.0.0")
	v.SetDefault("diagnostics.port", 3099)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
