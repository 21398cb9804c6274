package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentproof/proofstream/internal/app"
	"github.com/agentproof/proofstream/internal/config"
)

var (
	host     string
	wsPort   int
	httpPort int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proofstream broker",
	Long: `Start the broker and accept agent connections.

The broker listens on two ports: a WebSocket port for the streaming
protocol and an HTTP port for the read-only status API (health,
metrics, stream records).

Example:
  proofstream serve
  proofstream serve --ws-port 8765 --http-port 8766
  proofstream serve --host 0.0.0.0`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", "", "bind address (default: localhost)")
	serveCmd.Flags().IntVar(&wsPort, "ws-port", 0, "WebSocket streaming port (default: 8765)")
	serveCmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP status API port (default: 8766)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if host != "" {
		cfg.Server.Host = host
	}
	if wsPort != 0 {
		cfg.Server.WebSocketPort = wsPort
	}
	if httpPort != 0 {
		cfg.Server.HTTPPort = httpPort
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("host", cfg.Server.Host).
		Int("ws_port", cfg.Server.WebSocketPort).
		Int("http_port", cfg.Server.HTTPPort).
		Msg("starting proofstream")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("proofstream stopped")
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
