// Package oracle implements the Reference Oracle Registry (C6): a
// capability lookup the Dispute Resolver consults to fetch ground truth
// for a disputed intent's output, keyed by intent type. Grounded on the
// teacher's Jury/arbitrator capability-interface pattern (one named
// capability per intent_type, injected rather than hard-coded), with the
// Jury-specific voting machinery dropped — spec.md's Reference Oracle is a
// single deterministic lookup, not a quorum.
package oracle

import (
	"context"
	"log/slog"
	"sync"
)

// Capability produces a reference value for one intent type given the
// intent's params. A nil error with a nil value means "no reference
// available". Registry.Lookup reports that, and a capability error, as no
// reference, never as an error; the Dispute Resolver then resolves the
// dispute as a split.
type Capability interface {
	GetValue(ctx context.Context, params map[string]any) (any, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, params map[string]any) (any, error)

// GetValue implements Capability.
func (f CapabilityFunc) GetValue(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Registry maps an intent_type to the Capability that can supply a
// reference value for it.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
	logger       *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		capabilities: make(map[string]Capability),
		logger:       logger.With("component", "oracle.registry"),
	}
}

// Register wires a Capability for intentType. A second call for the same
// type replaces the first.
func (r *Registry) Register(intentType string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[intentType] = c
}

// Lookup fetches the reference value for an intent's type, returning
// (value, false) when no Capability is registered or the Capability
// itself failed — callers must treat both as "no reference available"
// rather than surfacing an error up to the Dispute Resolver.
func (r *Registry) Lookup(ctx context.Context, intentType string, params map[string]any) (any, bool) {
	r.mu.RLock()
	c, ok := r.capabilities[intentType]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	value, err := c.GetValue(ctx, params)
	if err != nil {
		r.logger.Warn("oracle capability lookup failed", "intent_type", intentType, "error", err)
		return nil, false
	}
	if value == nil {
		return nil, false
	}
	return value, true
}

// InferType applies the spec's heuristic fallback (Open Question O2) when
// an intent carries no explicit Type: shape-match the provided value's
// field names against the registered capabilities' conventions.
func InferType(value any) string {
	fields, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := fields[k]; !ok {
				return false
			}
		}
		return true
	}
	switch {
	case has("symbol", "price"):
		return "crypto.price"
	case has("temperature", "city"), has("temperature", "location"):
		return "weather.current"
	default:
		return ""
	}
}
