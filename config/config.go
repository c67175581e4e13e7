// Package config loads the txflow configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/pay-commons/txflow/datastore"
	"github.com/pay-commons/txflow/pkg/logger"
)

// StoreConfig is the configuration of the record store.
//
// WARNING: This data type contains sensitive fields and should not be logged.
type StoreConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"`                     // One of memory, postgres
	DSN             string `mapstructure:"dsn" yaml:"dsn"`                           // Secret: The data source name, required by the SQL drivers
	ConnectAttempts uint   `mapstructure:"connect_attempts" yaml:"connect_attempts"` // How many times to try reaching the database
}

// LogConfig is the configuration of the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

// MetricsConfig is the configuration of the prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Config wraps the entire configuration of txflow.
type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// Validate checks the values that cannot be caught by decoding.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case datastore.DriverMemory:
	case datastore.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() (logger.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := logger.Config{Level: lvl, Format: c.Log.Format}

	return cfg.New()
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	// If the config file exists, we continue to read it, otherwise we fallback to using
	// environment variables
	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadEnv loads the config from the environment variables.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

// LoadFile loads the config from a file, ignoring the environment.
func LoadFile(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)

	return cfg, err
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

var (
	defaults = map[string]any{
		"store.driver":           datastore.DriverMemory,
		"store.connect_attempts": 5,
		"log.level":              "info",
		"log.format":             "json",
		"metrics.enabled":        false,
	}

	// envBindings maps a config key to the environment variables that can provide its value. The
	// first name is preferred, the others are kept for compatibility and checked in order.
	envBindings = map[string][]string{
		"store.driver":           {"TXFLOW_STORE_DRIVER"},
		"store.dsn":              {"TXFLOW_STORE_DSN", "DATABASE_URL"},
		"store.connect_attempts": {"TXFLOW_STORE_CONNECT_ATTEMPTS"},
		"log.level":              {"TXFLOW_LOG_LEVEL", "LOG_LEVEL"},
		"log.format":             {"TXFLOW_LOG_FORMAT", "LOG_FORMAT"},
		"metrics.enabled":        {"TXFLOW_METRICS_ENABLED"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		// Prepend the env key to the start of the arguments
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
