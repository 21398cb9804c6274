// Package broker implements the event broker core: filter matching,
// subscription bookkeeping, event fan-out, and live metrics.
package broker

import (
	"fmt"
	"slices"

	"github.com/agentproof/proofstream/internal/domain"
	"github.com/agentproof/proofstream/internal/domain/events"
)

// Filter is a client-declared set of optional constraints deciding
// which events that client wants delivered. An unset field imposes no
// constraint.
type Filter struct {
	Architectures    []string           `json:"architectures,omitempty"`
	Agents           []string           `json:"agents,omitempty"`
	EventKinds       []events.EventKind `json:"event_types,omitempty"`
	QualityThreshold *float64           `json:"quality_threshold,omitempty"`
	ChainID          string             `json:"chain_id,omitempty"`
}

// Validate checks the filter's declared event kinds against the closed
// kind set.
func (f Filter) Validate() error {
	for _, k := range f.EventKinds {
		if !k.Valid() {
			return domain.NewValidationError("event_types",
				fmt.Sprintf("%q is not a valid event type", string(k)))
		}
	}
	return nil
}

// matches reports whether the event satisfies every constraint this
// filter declares.
func (f Filter) matches(e events.StreamEvent) bool {
	if len(f.EventKinds) > 0 && !slices.Contains(f.EventKinds, e.Kind) {
		return false
	}
	if len(f.Architectures) > 0 && !slices.Contains(f.Architectures, e.Architecture()) {
		return false
	}
	if len(f.Agents) > 0 && !slices.Contains(f.Agents, e.Agent()) {
		return false
	}
	if f.QualityThreshold != nil && e.QualityScore() < *f.QualityThreshold {
		return false
	}
	if f.ChainID != "" && e.ChainID() != f.ChainID {
		return false
	}
	return true
}

// Matches reports whether the event matches the given filter sequence.
// An empty sequence matches everything (no subscription means
// subscribe-to-all); otherwise the first filter whose every declared
// constraint is satisfied wins. OR across filters, AND within one.
func Matches(e events.StreamEvent, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.matches(e) {
			return true
		}
	}
	return false
}
