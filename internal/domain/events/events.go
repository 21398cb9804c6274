// Package events defines all event types used in proofstream.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentproof/proofstream/internal/domain"
)

// EventKind represents the kind of stream event.
type EventKind string

const (
	KindProofSubmitted       EventKind = "proof_submitted"
	KindVerificationComplete EventKind = "verification_complete"
	KindChainStepAdded       EventKind = "chain_step_added"
	KindStreamCreated        EventKind = "stream_created"
	KindAgentRegistered      EventKind = "agent_registered"
	KindTaskDelegated        EventKind = "task_delegated"
	KindOperadCompleted      EventKind = "operad_completed"
)

// GlobalStreamID is the stream id carried by process-wide events that
// are not scoped to a client-created stream.
const GlobalStreamID = "global"

// allKinds is the closed set of valid event kinds.
var allKinds = map[EventKind]struct{}{
	KindProofSubmitted:       {},
	KindVerificationComplete: {},
	KindChainStepAdded:       {},
	KindStreamCreated:        {},
	KindAgentRegistered:      {},
	KindTaskDelegated:        {},
	KindOperadCompleted:      {},
}

// Valid reports whether k is a member of the closed event kind set.
func (k EventKind) Valid() bool {
	_, ok := allKinds[k]
	return ok
}

// ParseKind converts a wire string into an EventKind.
func ParseKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", domain.ErrUnknownEventKind
	}
	return k, nil
}

// StreamEvent is an immutable, typed notification describing something
// that happened in the proving pipeline. Construct one with New or one
// of the kind-specific constructors; do not mutate Data after that.
type StreamEvent struct {
	ID        string         `json:"event_id"`
	Kind      EventKind      `json:"event_type"`
	StreamID  string         `json:"stream_id"`
	Timestamp float64        `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// New creates a new StreamEvent with the given kind, stream id and data.
func New(kind EventKind, streamID string, data map[string]any) StreamEvent {
	if data == nil {
		data = map[string]any{}
	}
	return StreamEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		StreamID:  streamID,
		Timestamp: now(),
		Data:      data,
	}
}

// now returns the current time as unix seconds with sub-second precision.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// ToJSON serializes the event to JSON.
func (e StreamEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// --- Filterable field accessors ---

// Architecture returns the model architecture named by the event data,
// or "" if absent.
func (e StreamEvent) Architecture() string {
	return stringField(e.Data, "architecture")
}

// Agent returns the agent identity of the event, falling back from
// data.agent to data.submitter.
func (e StreamEvent) Agent() string {
	if agent := stringField(e.Data, "agent"); agent != "" {
		return agent
	}
	return stringField(e.Data, "submitter")
}

// QualityScore returns the event's quality score, defaulting to 0.
func (e StreamEvent) QualityScore() float64 {
	switch v := e.Data["quality_score"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// ChainID returns the chain id named by the event data, or "".
func (e StreamEvent) ChainID() string {
	return stringField(e.Data, "chain_id")
}

func stringField(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

// --- Kind-specific constructors ---

// FingerprintLen is the length of the hex content fingerprint carried
// by proof submission events in place of the raw payload.
const FingerprintLen = 16

// Fingerprint returns a short hex content fingerprint of the given
// payload bytes.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}

// NewProofSubmitted creates a proof_submitted event. Proof data and
// public inputs travel as content fingerprints, never raw.
func NewProofSubmitted(streamID, submitter, proofHash, inputHash, architecture string) StreamEvent {
	return New(KindProofSubmitted, streamID, map[string]any{
		"submitter":    submitter,
		"proof_hash":   proofHash,
		"input_hash":   inputHash,
		"architecture": architecture,
	})
}

// NewStreamCreated creates a stream_created event.
func NewStreamCreated(streamID, creator string, spec map[string]any) StreamEvent {
	return New(KindStreamCreated, streamID, map[string]any{
		"creator": creator,
		"spec":    spec,
	})
}

// NewVerificationComplete creates a verification_complete event.
func NewVerificationComplete(agent, receiptHash, architecture string, gasUsed int64) StreamEvent {
	return New(KindVerificationComplete, GlobalStreamID, map[string]any{
		"agent":        agent,
		"receipt_hash": receiptHash,
		"architecture": architecture,
		"gas_used":     gasUsed,
		"verified":     true,
	})
}

// NewChainStepAdded creates a chain_step_added event.
func NewChainStepAdded(chainID string, stepIndex int, agent, architecture string) StreamEvent {
	return New(KindChainStepAdded, GlobalStreamID, map[string]any{
		"chain_id":     chainID,
		"step_index":   stepIndex,
		"agent":        agent,
		"architecture": architecture,
	})
}

// initialReputation is the reputation score assigned to newly
// registered agents.
const initialReputation = 100

// NewAgentRegistered creates an agent_registered event.
func NewAgentRegistered(agent string, architectures []string) StreamEvent {
	return New(KindAgentRegistered, GlobalStreamID, map[string]any{
		"agent":            agent,
		"architectures":    architectures,
		"reputation_score": initialReputation,
	})
}
