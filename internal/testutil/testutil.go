// Package testutil provides shared test utilities and mocks for
// proofstream tests.
package testutil

import (
	"sync"

	"github.com/agentproof/proofstream/internal/domain"
	"github.com/agentproof/proofstream/internal/domain/events"
)

// MockSubscriber implements ports.Subscriber for testing. By default it
// matches every event and records what it receives.
type MockSubscriber struct {
	id      string
	events  []events.StreamEvent
	mu      sync.Mutex
	closed  bool
	sendErr error
	matchFn func(events.StreamEvent) bool
	done    chan struct{}
}

// NewMockSubscriber creates a new mock subscriber.
func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{
		id:     id,
		events: make([]events.StreamEvent, 0),
		done:   make(chan struct{}),
	}
}

// ID returns the subscriber ID.
func (m *MockSubscriber) ID() string {
	return m.id
}

// Matches applies the configured match function, defaulting to true.
func (m *MockSubscriber) Matches(e events.StreamEvent) bool {
	m.mu.Lock()
	fn := m.matchFn
	m.mu.Unlock()

	if fn == nil {
		return true
	}
	return fn(e)
}

// Send records the event and returns any configured error.
func (m *MockSubscriber) Send(e events.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.ErrSubscriberClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}

	m.events = append(m.events, e)
	return nil
}

// Close marks the subscriber as closed.
func (m *MockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Done returns the done channel.
func (m *MockSubscriber) Done() <-chan struct{} {
	return m.done
}

// IsClosed reports whether Close has been called.
func (m *MockSubscriber) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// EventCount returns the number of recorded events.
func (m *MockSubscriber) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Events returns a copy of the recorded events.
func (m *MockSubscriber) Events() []events.StreamEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.StreamEvent, len(m.events))
	copy(out, m.events)
	return out
}

// SetSendError makes every subsequent Send fail with err.
func (m *MockSubscriber) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetMatchFunc overrides the default match-everything behavior.
func (m *MockSubscriber) SetMatchFunc(fn func(events.StreamEvent) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchFn = fn
}
