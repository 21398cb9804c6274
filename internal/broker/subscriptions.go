package broker

import (
	"sync"
)

// RemoveResult reports which action a Remove call took.
type RemoveResult int

const (
	// RemovedOne means exactly the indexed filter was removed.
	RemovedOne RemoveResult = iota

	// ClearedAll means the index was out of range (or absent) and the
	// connection's whole filter list was cleared instead.
	ClearedAll
)

// SubscriptionRegistry stores the ordered filter list of every
// connection. Filters for a connection are only ever mutated by
// messages from that same connection; the registry serializes the
// bookkeeping itself.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string][]Filter
}

// NewSubscriptionRegistry creates an empty subscription registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs: make(map[string][]Filter),
	}
}

// Register adds a connection with an empty filter list. Registering an
// already known connection is a no-op.
func (r *SubscriptionRegistry) Register(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[clientID]; !ok {
		r.subs[clientID] = nil
	}
}

// Add appends a filter to the connection's list and returns its index,
// which equals the previous list length.
func (r *SubscriptionRegistry) Add(clientID string, f Filter) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.subs[clientID])
	r.subs[clientID] = append(r.subs[clientID], f)
	return idx
}

// Remove removes the filter at the given index. A negative or
// out-of-range index clears the connection's entire filter list and
// reports ClearedAll.
func (r *SubscriptionRegistry) Remove(clientID string, index int) RemoveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	filters := r.subs[clientID]
	if index >= 0 && index < len(filters) {
		r.subs[clientID] = append(filters[:index], filters[index+1:]...)
		return RemovedOne
	}

	r.subs[clientID] = nil
	return ClearedAll
}

// Drop removes all bookkeeping for a connection. Called only from the
// connection teardown path.
func (r *SubscriptionRegistry) Drop(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, clientID)
}

// Filters returns a copy of the connection's current filter list.
func (r *SubscriptionRegistry) Filters(clientID string) []Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filters := r.subs[clientID]
	if len(filters) == 0 {
		return nil
	}
	out := make([]Filter, len(filters))
	copy(out, filters)
	return out
}

// Count returns the number of filters held by a connection.
func (r *SubscriptionRegistry) Count(clientID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[clientID])
}
