package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/domain/events"
	"github.com/agentproof/proofstream/internal/protocol"
	"github.com/agentproof/proofstream/internal/stream"
)

// Dispatcher routes inbound client frames to the matching handler.
// Every fault inside a handler is caught and turned into a typed error
// reply scoped to that one request; it never terminates the connection.
type Dispatcher struct {
	broker  *broker.Broker
	streams *stream.Registry
	subs    *broker.SubscriptionRegistry
}

// NewDispatcher creates a dispatcher over the given registries.
func NewDispatcher(b *broker.Broker, streams *stream.Registry, subs *broker.SubscriptionRegistry) *Dispatcher {
	return &Dispatcher{
		broker:  b,
		streams: streams,
		subs:    subs,
	}
}

// Handle processes one inbound frame from a client.
func (d *Dispatcher) Handle(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("client_id", c.ID()).
				Interface("panic", r).
				Msg("handler panicked")
			d.reply(c, protocol.NewError(protocol.TypeError, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		d.reply(c, protocol.NewError(protocol.TypeError, "Invalid JSON format"))
		return
	}

	switch req.Type {
	case protocol.TypeSubscribe:
		d.handleSubscribe(c, req)
	case protocol.TypeUnsubscribe:
		d.handleUnsubscribe(c, req)
	case protocol.TypeCreateStream:
		d.handleCreateStream(c, req)
	case protocol.TypeSubmitProof:
		d.handleSubmitProof(c, req)
	case protocol.TypePing:
		d.reply(c, protocol.NewPong(unixNow()))
	default:
		d.reply(c, protocol.NewUnknownType(req.Type))
	}
}

// handleSubscribe appends a filter to the client's subscription list.
func (d *Dispatcher) handleSubscribe(c *Client, req *protocol.Request) {
	var filter broker.Filter
	if req.Filter != nil {
		filter = *req.Filter
	}

	if err := filter.Validate(); err != nil {
		d.reply(c, protocol.NewError(protocol.TypeSubscriptionError, err.Error()))
		return
	}

	id := d.subs.Add(c.ID(), filter)
	d.reply(c, protocol.NewSubscriptionConfirmed(filter, id))

	log.Info().
		Str("client_id", c.ID()).
		Int("subscription_id", id).
		Msg("client subscribed")
}

// handleUnsubscribe removes the indexed filter, or clears the whole
// list when the index is absent or out of range.
func (d *Dispatcher) handleUnsubscribe(c *Client, req *protocol.Request) {
	index := -1
	if req.SubscriptionID != nil {
		index = *req.SubscriptionID
	}

	switch d.subs.Remove(c.ID(), index) {
	case broker.RemovedOne:
		d.reply(c, protocol.NewUnsubscriptionConfirmed(index))
	case broker.ClearedAll:
		d.reply(c, protocol.NewAllSubscriptionsCleared())
	}
}

// handleCreateStream registers a new stream and broadcasts its creation.
func (d *Dispatcher) handleCreateStream(c *Client, req *protocol.Request) {
	s := d.streams.Create(c.ID(), req.StreamSpec)

	d.reply(c, protocol.NewStreamCreated(s.ID, s.Spec))
	d.broker.Emit(events.NewStreamCreated(s.ID, s.Creator, s.Spec))

	log.Info().
		Str("stream_id", s.ID).
		Str("client_id", c.ID()).
		Msg("stream created")
}

// handleSubmitProof accepts a proof submission into a stream and
// broadcasts a proof_submitted event carrying content fingerprints of
// the payload, never the raw proof.
func (d *Dispatcher) handleSubmitProof(c *Client, req *protocol.Request) {
	if _, err := d.streams.Submit(req.StreamID); err != nil {
		d.reply(c, protocol.NewError(protocol.TypeProofSubmissionError,
			fmt.Sprintf("Stream %s not found", req.StreamID)))
		return
	}

	architecture := req.Architecture
	if architecture == "" {
		architecture = "unknown"
	}

	d.broker.Emit(events.NewProofSubmitted(
		req.StreamID,
		c.ID(),
		events.Fingerprint(req.ProofData),
		events.Fingerprint(req.PublicInputs),
		architecture,
	))

	d.reply(c, protocol.NewProofAccepted(req.StreamID))
}

// reply marshals and queues a frame for the client.
func (d *Dispatcher) reply(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.ID()).Msg("failed to marshal reply")
		return
	}
	c.Send(data)
}

// unixNow returns the current time as unix seconds.
func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
