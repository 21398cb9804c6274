package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentproof/proofstream/internal/config"
)

// configCmd manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage proofstream configuration",
}

// configShowCmd displays the effective configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Current Configuration:")
		fmt.Println("----------------------")
		fmt.Printf("Host:             %s\n", cfg.Server.Host)
		fmt.Printf("WebSocket Port:   %d\n", cfg.Server.WebSocketPort)
		fmt.Printf("HTTP Port:        %d\n", cfg.Server.HTTPPort)
		fmt.Printf("Metrics Interval: %ds\n", cfg.Metrics.IntervalSeconds)
		fmt.Printf("Log Level:        %s\n", cfg.Logging.Level)
		fmt.Printf("Log Format:       %s\n", cfg.Logging.Format)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
