// Package config provides centralized default configuration values.
package config

import "github.com/spf13/viper"

// Default ports: the streaming transport and the read-only status API
// listen separately so observers can be firewalled apart from agents.
const (
	DefaultWebSocketPort = 8765
	DefaultHTTPPort      = 8766

	// DefaultMetricsIntervalSeconds is how often the metrics collector
	// recomputes its snapshot.
	DefaultMetricsIntervalSeconds = 5
)

// setDefaults registers the default value for every config key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.websocket_port", DefaultWebSocketPort)
	v.SetDefault("server.http_port", DefaultHTTPPort)

	v.SetDefault("metrics.interval_seconds", DefaultMetricsIntervalSeconds)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
