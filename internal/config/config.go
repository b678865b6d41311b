// Package config loads ctcpd's server configuration from a YAML file,
// environment variables, and built-in defaults, in that precedence order
// (env overrides file overrides defaults), following the teacher's
// pkg/config package: a single Config struct, a package-level Load/MustLoad
// pair built on a fresh viper.Viper, and a duration decode hook so config
// files can write "30s" instead of a raw nanosecond count.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is ctcpd's complete static configuration.
type Config struct {
	// Logging controls internal/logger's output.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server configures the CTCP TCP listener (internal/server.Config).
	Server ServerConfig `mapstructure:"server"`

	// Admin configures the administrative HTTP surface (internal/adminapi).
	Admin AdminConfig `mapstructure:"admin"`

	// Persistence configures the optional Badger-backed session store and
	// Postgres-backed audit log.
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// LoggingConfig controls logging behavior, matching the teacher's
// LoggingConfig field-for-field since internal/logger.Init takes the same
// three knobs.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ServerConfig configures the CTCP data-plane listener.
type ServerConfig struct {
	BindAddress        string        `mapstructure:"bind_address"`
	Port               int           `mapstructure:"port"`
	MaxConnections     int           `mapstructure:"max_connections"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`
}

// AdminConfig configures the admin HTTP API / Prometheus exposition.
type AdminConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// PersistenceConfig configures the optional durable backends. Both are
// optional: an empty BadgerDir disables session persistence across
// restarts, and an empty PostgresDSN disables audit logging — ctcpd runs
// in a purely in-memory mode with both left blank.
type PersistenceConfig struct {
	BadgerDir   string `mapstructure:"badger_dir"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// GetDefaultConfig returns ctcpd's built-in defaults, the base that a config
// file and CTCPD_* environment variables override.
func GetDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Server: ServerConfig{
			BindAddress:        "0.0.0.0",
			Port:               8700,
			MaxConnections:     1024,
			ShutdownTimeout:    10 * time.Second,
			MetricsLogInterval: 30 * time.Second,
		},
		Admin: AdminConfig{
			BindAddress: "127.0.0.1",
			Port:        8701,
		},
	}
}

// Load loads configuration from file, environment, and defaults.
// Environment variables use the CTCPD_ prefix, e.g. CTCPD_SERVER_PORT.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	// AutomaticEnv only answers for keys viper already knows, so every key
	// is bound explicitly, whether or not a config file was found.
	for _, key := range []string{"logging.level", "logging.format", "logging.output",
		"server.bind_address", "server.port", "server.max_connections", "server.shutdown_timeout",
		"server.metrics_log_interval", "admin.bind_address", "admin.port",
		"persistence.badger_dir", "persistence.postgres_dsn"} {
		_ = v.BindEnv(key)
	}

	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration, returning a user-facing error that tells
// the operator how to create one if configPath doesn't exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Run ctcpd without --config to use built-in defaults, or create\n"+
				"the file at the given path", configPath)
		}
	}
	return Load(configPath)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("CTCPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook lets config files write human-readable durations like
// "30s" for any time.Duration field, the same conversion the teacher's
// config package applies.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ctcpd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ctcpd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
