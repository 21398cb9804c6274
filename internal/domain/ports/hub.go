// Package ports defines the interfaces between the broker core and its
// transport adapters.
package ports

import (
	"github.com/agentproof/proofstream/internal/domain/events"
)

// Subscriber represents an event subscriber.
type Subscriber interface {
	// ID returns a unique identifier for this subscriber.
	ID() string

	// Send delivers an event to this subscriber.
	// Returns error if the subscriber is closed or the send fails.
	Send(event events.StreamEvent) error

	// Matches reports whether this subscriber wants the event.
	Matches(event events.StreamEvent) bool

	// Close closes the subscriber.
	Close() error

	// Done returns a channel that's closed when the subscriber is done.
	Done() <-chan struct{}
}

// EventBroker defines the contract for event distribution.
type EventBroker interface {
	// Start begins the broker's dispatch loop.
	Start() error

	// Stop gracefully stops the broker.
	Stop() error

	// Emit fans an event out to all matching subscribers.
	Emit(event events.StreamEvent)

	// Subscribe adds a new subscriber.
	Subscribe(sub Subscriber)

	// Unsubscribe removes a subscriber by ID.
	Unsubscribe(id string)

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}
