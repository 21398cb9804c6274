package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentproof/proofstream/internal/client"
	"github.com/agentproof/proofstream/internal/protocol"
)

var (
	submitURL          string
	submitStreamID     string
	submitProofFile    string
	submitInputs       []float64
	submitArchitecture string
)

// submitCmd submits a proof to a stream.
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a proof to a stream",
	Long: `Connect to a running broker and submit a proof into a stream.
The broker broadcasts a content fingerprint of the proof, never the
proof itself.

Example:
  proofstream submit --stream-id <id> --proof proof.json --architecture RWKV`,
	RunE: runSubmit,
}

// createStreamCmd creates a new stream.
var createStreamCmd = &cobra.Command{
	Use:   "create-stream",
	Short: "Create a new proof stream",
	Long: `Connect to a running broker, create a stream, and print its id.

Example:
  proofstream create-stream
  proofstream create-stream --url ws://broker:8765`,
	RunE: runCreateStream,
}

var createStreamURL string

func init() {
	submitCmd.Flags().StringVar(&submitURL, "url", "", "broker WebSocket URL (default: from config)")
	submitCmd.Flags().StringVar(&submitStreamID, "stream-id", "", "target stream id (required)")
	submitCmd.Flags().StringVar(&submitProofFile, "proof", "", "path to the proof JSON file (required)")
	submitCmd.Flags().Float64SliceVar(&submitInputs, "public-inputs", nil, "public inputs of the proof")
	submitCmd.Flags().StringVar(&submitArchitecture, "architecture", "RWKV", "model architecture of the proof")
	_ = submitCmd.MarkFlagRequired("stream-id")
	_ = submitCmd.MarkFlagRequired("proof")

	createStreamCmd.Flags().StringVar(&createStreamURL, "url", "", "broker WebSocket URL (default: from config)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	logger := clientLogger()

	url, err := brokerURL(submitURL)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(submitProofFile)
	if err != nil {
		return fmt.Errorf("failed to read proof file: %w", err)
	}
	var proofData any
	if err := json.Unmarshal(raw, &proofData); err != nil {
		return fmt.Errorf("proof file is not valid JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.SubmitProof(submitStreamID, proofData, submitInputs, submitArchitecture); err != nil {
		return err
	}

	// The server answers with either an acceptance or a typed error.
	accepted := make(chan json.RawMessage, 1)
	rejected := make(chan json.RawMessage, 1)
	go func() {
		if raw, err := c.WaitFor(ctx, protocol.TypeProofSubmitted); err == nil {
			accepted <- raw
		}
	}()
	go func() {
		if raw, err := c.WaitFor(ctx, protocol.TypeProofSubmissionError); err == nil {
			rejected <- raw
		}
	}()

	select {
	case <-accepted:
		logger.Info("proof accepted", "stream_id", submitStreamID, "architecture", submitArchitecture)
		return nil
	case raw := <-rejected:
		var errMsg protocol.ErrorMessage
		_ = json.Unmarshal(raw, &errMsg)
		return fmt.Errorf("proof rejected: %s", errMsg.Message)
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for submission reply")
	}
}

func runCreateStream(cmd *cobra.Command, args []string) error {
	logger := clientLogger()

	url, err := brokerURL(createStreamURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.CreateStream(map[string]any{"created_by": "proofstream-cli"}); err != nil {
		return err
	}

	raw, err := c.WaitFor(ctx, protocol.TypeStreamCreated)
	if err != nil {
		return fmt.Errorf("stream creation not confirmed: %w", err)
	}

	var created protocol.StreamCreated
	if err := json.Unmarshal(raw, &created); err != nil {
		return err
	}

	logger.Info("stream created", "stream_id", created.StreamID)
	fmt.Println(created.StreamID)
	return nil
}
