// Package config handles configuration management for proofstream.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	WebSocketPort int    `mapstructure:"websocket_port"`
	HTTPPort      int    `mapstructure:"http_port"`
}

// MetricsConfig holds metrics collector configuration.
type MetricsConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default search paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.proofstream")
		v.AddConfigPath("/etc/proofstream")
	}

	// Environment variable prefix
	v.SetEnvPrefix("PROOFSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WebSocketURL returns the ws:// URL of the configured server.
func (c *Config) WebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d", c.Server.Host, c.Server.WebSocketPort)
}
