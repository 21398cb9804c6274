package config

import (
	"github.com/rs/zerolog"

	"github.com/agentproof/proofstream/internal/domain"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return domain.NewValidationError("server.host", "must not be empty")
	}
	if err := validatePort("server.websocket_port", cfg.Server.WebSocketPort); err != nil {
		return err
	}
	if err := validatePort("server.http_port", cfg.Server.HTTPPort); err != nil {
		return err
	}
	if cfg.Server.WebSocketPort == cfg.Server.HTTPPort {
		return domain.NewValidationError("server.http_port",
			"must differ from server.websocket_port")
	}

	if cfg.Metrics.IntervalSeconds <= 0 {
		return domain.NewValidationError("metrics.interval_seconds", "must be positive")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return domain.NewValidationError("logging.level", "unknown log level "+cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return domain.NewValidationError("logging.format", "must be json or console")
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return domain.NewValidationError(field, "must be between 1 and 65535")
	}
	return nil
}
