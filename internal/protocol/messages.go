// Package protocol defines the JSON wire messages exchanged between
// the broker and its clients: one JSON object per text frame, tagged by
// a "type" field.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/domain"
	"github.com/agentproof/proofstream/internal/domain/events"
)

// Client → server request types.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeCreateStream = "create_stream"
	TypeSubmitProof  = "submit_proof"
	TypePing         = "ping"
)

// Server → client message types.
const (
	TypeConnectionEstablished   = "connection_established"
	TypeStreamEvent             = "stream_event"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeSubscriptionError       = "subscription_error"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypeAllSubscriptionsCleared = "all_subscriptions_cleared"
	TypeStreamCreated           = "stream_created"
	TypeStreamCreationError     = "stream_creation_error"
	TypeProofSubmitted          = "proof_submitted"
	TypeProofSubmissionError    = "proof_submission_error"
	TypePong                    = "pong"
	TypeError                   = "error"
)

// Request is an inbound client frame. Only the fields relevant to the
// declared type are populated.
type Request struct {
	Type           string          `json:"type"`
	Filter         *broker.Filter  `json:"filter,omitempty"`
	SubscriptionID *int            `json:"subscription_id,omitempty"`
	StreamSpec     map[string]any  `json:"stream_spec,omitempty"`
	StreamID       string          `json:"stream_id,omitempty"`
	ProofData      json.RawMessage `json:"proof_data,omitempty"`
	PublicInputs   json.RawMessage `json:"public_inputs,omitempty"`
	Architecture   string          `json:"architecture,omitempty"`
}

// DecodeRequest parses one inbound frame. Failures come back as a
// ProtocolError so callers can tell a malformed frame from a transport
// fault.
func DecodeRequest(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, domain.NewProtocolError("decode", err)
	}
	return &req, nil
}

// ServerInfo describes the server inside the welcome frame.
type ServerInfo struct {
	Version       string   `json:"version"`
	Features      []string `json:"features"`
	ActiveStreams int      `json:"active_streams"`
}

// ConnectionEstablished is the unsolicited welcome frame.
type ConnectionEstablished struct {
	Type       string     `json:"type"`
	ClientID   string     `json:"client_id"`
	ServerInfo ServerInfo `json:"server_info"`
}

// NewConnectionEstablished builds the welcome frame.
func NewConnectionEstablished(clientID string, info ServerInfo) ConnectionEstablished {
	return ConnectionEstablished{
		Type:       TypeConnectionEstablished,
		ClientID:   clientID,
		ServerInfo: info,
	}
}

// StreamEventMessage is the unsolicited event delivery frame.
type StreamEventMessage struct {
	Type      string             `json:"type"`
	Event     events.StreamEvent `json:"event"`
	Timestamp float64            `json:"timestamp"`
}

// NewStreamEventMessage wraps an event for delivery. The outer
// timestamp records delivery time, the inner one emission time.
func NewStreamEventMessage(event events.StreamEvent, deliveredAt float64) StreamEventMessage {
	return StreamEventMessage{
		Type:      TypeStreamEvent,
		Event:     event,
		Timestamp: deliveredAt,
	}
}

// SubscriptionConfirmed acknowledges a subscribe request.
type SubscriptionConfirmed struct {
	Type           string        `json:"type"`
	Filter         broker.Filter `json:"filter"`
	SubscriptionID int           `json:"subscription_id"`
}

// NewSubscriptionConfirmed builds a subscription_confirmed reply.
func NewSubscriptionConfirmed(f broker.Filter, id int) SubscriptionConfirmed {
	return SubscriptionConfirmed{
		Type:           TypeSubscriptionConfirmed,
		Filter:         f,
		SubscriptionID: id,
	}
}

// UnsubscriptionConfirmed acknowledges removal of one subscription.
type UnsubscriptionConfirmed struct {
	Type           string `json:"type"`
	SubscriptionID int    `json:"subscription_id"`
}

// NewUnsubscriptionConfirmed builds an unsubscription_confirmed reply.
func NewUnsubscriptionConfirmed(id int) UnsubscriptionConfirmed {
	return UnsubscriptionConfirmed{
		Type:           TypeUnsubscriptionConfirmed,
		SubscriptionID: id,
	}
}

// AllSubscriptionsCleared reports that the whole filter list was
// cleared in response to an unsubscribe with an invalid index.
type AllSubscriptionsCleared struct {
	Type string `json:"type"`
}

// NewAllSubscriptionsCleared builds an all_subscriptions_cleared reply.
func NewAllSubscriptionsCleared() AllSubscriptionsCleared {
	return AllSubscriptionsCleared{Type: TypeAllSubscriptionsCleared}
}

// StreamCreated acknowledges a create_stream request.
type StreamCreated struct {
	Type     string         `json:"type"`
	StreamID string         `json:"stream_id"`
	Spec     map[string]any `json:"spec"`
}

// NewStreamCreated builds a stream_created reply.
func NewStreamCreated(streamID string, spec map[string]any) StreamCreated {
	return StreamCreated{
		Type:     TypeStreamCreated,
		StreamID: streamID,
		Spec:     spec,
	}
}

// ProofAccepted acknowledges a submit_proof request.
type ProofAccepted struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	Status   string `json:"status"`
}

// NewProofAccepted builds a proof_submitted acknowledgement.
func NewProofAccepted(streamID string) ProofAccepted {
	return ProofAccepted{
		Type:     TypeProofSubmitted,
		StreamID: streamID,
		Status:   "accepted",
	}
}

// Pong answers a ping.
type Pong struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// NewPong builds a pong reply.
func NewPong(timestamp float64) Pong {
	return Pong{Type: TypePong, Timestamp: timestamp}
}

// ErrorMessage is the generic failure frame. Type carries the request
// context (subscription_error, stream_creation_error,
// proof_submission_error) or plain "error" for protocol faults, so a
// client can route the failure without parsing the message text.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds a failure frame of the given error type.
func NewError(errType, message string) ErrorMessage {
	return ErrorMessage{Type: errType, Message: message}
}

// NewUnknownType builds the reply for an unrecognized request type.
func NewUnknownType(msgType string) ErrorMessage {
	return NewError(TypeError, fmt.Sprintf("Unknown message type: %s", msgType))
}

// MessageType peeks at the type tag of a raw frame without decoding
// the rest.
func MessageType(raw []byte) (string, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return "", err
	}
	return peek.Type, nil
}
