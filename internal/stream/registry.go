// Package stream implements the registry of named proof streams.
package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentproof/proofstream/internal/domain"
)

// Stream is one named logical channel into which proof submissions are
// counted and broadcast. Streams live for the process lifetime.
type Stream struct {
	ID         string         `json:"id"`
	Creator    string         `json:"creator"`
	Spec       map[string]any `json:"spec"`
	CreatedAt  float64        `json:"created_at"`
	EventCount int64          `json:"event_count"`
}

// Registry owns all stream records. All mutation goes through its
// methods; there is no ambient state.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]*Stream),
	}
}

// Create registers a new stream for the given creator and returns it.
// Stream ids are a collision-resistant hash of creator, spec, and
// nanosecond creation time, so repeated calls with an identical spec
// still produce distinct ids.
func (r *Registry) Create(creator string, spec map[string]any) Stream {
	if spec == nil {
		spec = map[string]any{}
	}

	now := time.Now()
	sum := sha256.Sum256(fmt.Appendf(nil, "%s_%v_%d", creator, spec, now.UnixNano()))

	s := &Stream{
		ID:        hex.EncodeToString(sum[:]),
		Creator:   creator,
		Spec:      spec,
		CreatedAt: float64(now.UnixNano()) / float64(time.Second),
	}

	r.mu.Lock()
	r.streams[s.ID] = s
	r.mu.Unlock()

	return *s
}

// Submit accepts one submission into a stream, incrementing its event
// count exactly once and returning the new count. Returns
// domain.ErrStreamNotFound for unregistered ids.
func (r *Registry) Submit(id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return 0, domain.ErrStreamNotFound
	}
	s.EventCount++
	return s.EventCount, nil
}

// Get returns a copy of the stream record by id.
func (r *Registry) Get(id string) (Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streams[id]
	if !ok {
		return Stream{}, false
	}
	return *s, true
}

// Count returns the number of active streams.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// List returns copies of all stream records, oldest first.
func (r *Registry) List() []Stream {
	r.mu.RLock()
	out := make([]Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
