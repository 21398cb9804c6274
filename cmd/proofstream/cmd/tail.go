package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/client"
	"github.com/agentproof/proofstream/internal/config"
	"github.com/agentproof/proofstream/internal/domain/events"
	"github.com/agentproof/proofstream/internal/protocol"
)

var (
	tailURL           string
	tailArchitectures []string
	tailAgents        []string
	tailEventTypes    []string
	tailQuality       float64
	tailChainID       string
)

// tailCmd subscribes to the broker and prints matching events.
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Subscribe to broker events and print them",
	Long: `Connect to a running broker, subscribe with the given filter,
and print every matching event until interrupted.

Example:
  proofstream tail
  proofstream tail --architectures RWKV,Mamba --event-types proof_submitted
  proofstream tail --quality-threshold 0.8`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "broker WebSocket URL (default: from config)")
	tailCmd.Flags().StringSliceVar(&tailArchitectures, "architectures", nil, "filter by model architectures")
	tailCmd.Flags().StringSliceVar(&tailAgents, "agents", nil, "filter by agent identities")
	tailCmd.Flags().StringSliceVar(&tailEventTypes, "event-types", nil, "filter by event types")
	tailCmd.Flags().Float64Var(&tailQuality, "quality-threshold", 0, "minimum quality score")
	tailCmd.Flags().StringVar(&tailChainID, "chain-id", "", "filter by chain id")
}

// clientLogger builds the operator-facing console logger used by the
// client commands.
func clientLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// brokerURL resolves the broker URL from the flag or config.
func brokerURL(flagURL string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.WebSocketURL(), nil
}

func runTail(cmd *cobra.Command, args []string) error {
	logger := clientLogger()

	url, err := brokerURL(tailURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := client.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	logger.Info("connected to broker", "url", url)

	filter := broker.Filter{
		Architectures: tailArchitectures,
		Agents:        tailAgents,
		ChainID:       tailChainID,
	}
	for _, et := range tailEventTypes {
		kind, err := events.ParseKind(et)
		if err != nil {
			return fmt.Errorf("invalid event type %q", et)
		}
		filter.EventKinds = append(filter.EventKinds, kind)
	}
	if tailQuality > 0 {
		filter.QualityThreshold = &tailQuality
	}

	c.On(protocol.TypeStreamEvent, func(raw json.RawMessage) {
		var msg protocol.StreamEventMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("undecodable stream event", "error", err)
			return
		}
		logger.Info(string(msg.Event.Kind),
			"stream_id", msg.Event.StreamID,
			"agent", msg.Event.Agent(),
			"architecture", msg.Event.Architecture(),
			"data", msg.Event.Data,
		)
	})

	if err := c.Subscribe(filter); err != nil {
		return err
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	if _, err := c.WaitFor(waitCtx, protocol.TypeSubscriptionConfirmed); err != nil {
		return fmt.Errorf("subscription not confirmed: %w", err)
	}
	logger.Info("subscribed", "filter", filter)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-c.Done():
		logger.Warn("connection closed by server")
	}
	return nil
}
