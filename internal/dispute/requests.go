package dispute

import "github.com/ocx/synapse-core/internal/domain"

// OpenDisputeRequest is the input to Resolver.OpenDispute (spec.md §4.3).
// IntentType resolves Open Question O2: callers should supply it
// explicitly; when empty the resolver falls back to the shape heuristic.
type OpenDisputeRequest struct {
	IntentID      string
	EscrowID      string
	Client        string
	Provider      string
	Reason        domain.DisputeReason
	Description   string
	IntentType    string
	ProvidedValue any
	ExpectedValue any // optional, becomes a "reference_data" evidence entry
}
