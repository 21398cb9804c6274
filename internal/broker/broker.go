package broker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentproof/proofstream/internal/domain"
	"github.com/agentproof/proofstream/internal/domain/events"
	"github.com/agentproof/proofstream/internal/domain/ports"
)

// HandlerFunc is a process-registered callback invoked for every
// emitted event of a given kind. Handlers run inside the dispatch loop
// with fire-and-forget semantics: a panic is recovered and logged,
// never propagated.
type HandlerFunc func(event events.StreamEvent)

// Broker is the central event dispatcher that fans events out to all
// matching subscribers.
type Broker struct {
	// subscribers holds all active subscribers
	subscribers map[string]ports.Subscriber

	// broadcast channel receives events to be dispatched
	broadcast chan events.StreamEvent

	// register channel receives new subscribers
	register chan ports.Subscriber

	// unregister channel receives subscriber IDs to remove
	unregister chan string

	// handlers holds process-registered callbacks per event kind
	handlers   map[events.EventKind][]HandlerFunc
	handlersMu sync.RWMutex

	// collector receives per-event throughput and latency samples
	collector *Collector

	// mu protects subscribers map and running flag
	mu sync.RWMutex

	// done signals when the broker should stop
	done chan struct{}

	// running indicates if the broker is running
	running bool
}

var _ ports.EventBroker = (*Broker)(nil)

// New creates a new Broker. The collector may be nil when metrics are
// not wanted (tests).
func New(collector *Collector) *Broker {
	return &Broker{
		subscribers: make(map[string]ports.Subscriber),
		broadcast:   make(chan events.StreamEvent, 256),
		register:    make(chan ports.Subscriber),
		unregister:  make(chan string),
		handlers:    make(map[events.EventKind][]HandlerFunc),
		collector:   collector,
		done:        make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop.
func (b *Broker) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	log.Debug().Msg("event broker started")

	go b.run()
	return nil
}

// Stop gracefully stops the broker.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	close(b.done)

	// Close all subscribers
	b.mu.Lock()
	for _, sub := range b.subscribers {
		_ = sub.Close()
	}
	b.subscribers = make(map[string]ports.Subscriber)
	b.mu.Unlock()

	log.Debug().Msg("event broker stopped")
	return nil
}

// run is the main dispatch loop.
func (b *Broker) run() {
	for {
		select {
		case <-b.done:
			return

		case sub := <-b.register:
			b.mu.Lock()
			b.subscribers[sub.ID()] = sub
			b.mu.Unlock()
			log.Debug().Str("subscriber_id", sub.ID()).Msg("subscriber registered")

		case id := <-b.unregister:
			b.mu.Lock()
			if sub, ok := b.subscribers[id]; ok {
				_ = sub.Close()
				delete(b.subscribers, id)
			}
			b.mu.Unlock()
			log.Debug().Str("subscriber_id", id).Msg("subscriber unregistered")

		case event := <-b.broadcast:
			b.dispatch(event)
		}
	}
}

// dispatch delivers one event to every matching subscriber, then
// invokes the registered handlers for its kind. A failed send is
// treated as evidence the subscriber is dead and queues its teardown;
// it never disturbs delivery to the others.
func (b *Broker) dispatch(event events.StreamEvent) {
	start := time.Now()

	b.mu.RLock()
	for id, sub := range b.subscribers {
		if !sub.Matches(event) {
			continue
		}
		if err := sub.Send(event); err != nil {
			log.Warn().
				Str("subscriber_id", id).
				Err(err).
				Msg("failed to send event to subscriber")
			// Queue unregister from outside the loop so the dispatch
			// goroutine can come back around to receive it.
			go func(subID string) {
				select {
				case b.unregister <- subID:
				case <-b.done:
				}
			}(id)
		}
	}
	b.mu.RUnlock()

	b.invokeHandlers(event)

	if b.collector != nil {
		b.collector.RecordEvent(time.Since(start))
	}
}

// invokeHandlers runs the registered callbacks for the event's kind.
func (b *Broker) invokeHandlers(event events.StreamEvent) {
	b.handlersMu.RLock()
	handlers := b.handlers[event.Kind]
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event_type", string(event.Kind)).
						Interface("panic", r).
						Msg("event handler panicked")
				}
			}()
			h(event)
		}()
	}
}

// Emit fans an event out to all matching subscribers. Events emitted
// while the broker is stopped are dropped.
func (b *Broker) Emit(event events.StreamEvent) {
	if !b.IsRunning() {
		log.Warn().
			Err(domain.ErrBrokerNotRunning).
			Str("event_type", string(event.Kind)).
			Msg("event dropped")
		return
	}

	select {
	case b.broadcast <- event:
		log.Trace().
			Str("event_type", string(event.Kind)).
			Str("stream_id", event.StreamID).
			Msg("event emitted")
	default:
		log.Warn().
			Str("event_type", string(event.Kind)).
			Msg("event dropped: broadcast channel full")
	}
}

// Subscribe adds a new subscriber.
func (b *Broker) Subscribe(sub ports.Subscriber) {
	select {
	case b.register <- sub:
	case <-b.done:
	}
}

// Unsubscribe removes a subscriber by ID.
func (b *Broker) Unsubscribe(id string) {
	select {
	case b.unregister <- id:
	case <-b.done:
	}
}

// OnEvent registers a handler for a specific event kind.
func (b *Broker) OnEvent(kind events.EventKind, h HandlerFunc) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// IsRunning returns true if the broker is running.
func (b *Broker) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// --- Collaborator write paths ---
//
// External collaborators (proof engine, chain client, agent registry)
// publish domain events exclusively through these three helpers.

// BroadcastVerificationComplete emits a verification_complete event.
func (b *Broker) BroadcastVerificationComplete(agent, receiptHash, architecture string, gasUsed int64) {
	b.Emit(events.NewVerificationComplete(agent, receiptHash, architecture, gasUsed))
}

// BroadcastChainStepAdded emits a chain_step_added event.
func (b *Broker) BroadcastChainStepAdded(chainID string, stepIndex int, agent, architecture string) {
	b.Emit(events.NewChainStepAdded(chainID, stepIndex, agent, architecture))
}

// BroadcastAgentRegistered emits an agent_registered event.
func (b *Broker) BroadcastAgentRegistered(agent string, architectures []string) {
	b.Emit(events.NewAgentRegistered(agent, architectures))
}
