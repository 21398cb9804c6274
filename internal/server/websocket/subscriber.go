package websocket

import (
	"encoding/json"
	"time"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/domain"
	"github.com/agentproof/proofstream/internal/domain/events"
	"github.com/agentproof/proofstream/internal/protocol"
)

// ClientSubscriber wraps a WebSocket client as a broker subscriber.
// Matching consults the client's own filter list in the subscription
// registry, so an empty list means the client receives everything.
type ClientSubscriber struct {
	client *Client
	subs   *broker.SubscriptionRegistry
}

// NewClientSubscriber creates a subscriber from a WebSocket client.
func NewClientSubscriber(client *Client, subs *broker.SubscriptionRegistry) *ClientSubscriber {
	return &ClientSubscriber{client: client, subs: subs}
}

// ID returns the subscriber's unique identifier.
func (s *ClientSubscriber) ID() string {
	return s.client.ID()
}

// Matches reports whether the client's filter list matches the event.
func (s *ClientSubscriber) Matches(event events.StreamEvent) bool {
	return broker.Matches(event, s.subs.Filters(s.client.ID()))
}

// Send wraps the event in a stream_event frame and queues it. Events
// arriving while the client is still Connecting are dropped, not
// errored: an error here marks the subscriber dead, and a client mid
// handshake is not dead yet.
func (s *ClientSubscriber) Send(event events.StreamEvent) error {
	switch s.client.State() {
	case StateOpen:
	case StateConnecting:
		return nil
	default:
		return domain.ErrSubscriberClosed
	}

	deliveredAt := float64(time.Now().UnixNano()) / float64(time.Second)
	data, err := json.Marshal(protocol.NewStreamEventMessage(event, deliveredAt))
	if err != nil {
		return err
	}

	s.client.Send(data)
	return nil
}

// Close closes the underlying client.
func (s *ClientSubscriber) Close() error {
	s.client.Close()
	return nil
}

// Done returns a channel that's closed when the client is done.
func (s *ClientSubscriber) Done() <-chan struct{} {
	return s.client.Done()
}
