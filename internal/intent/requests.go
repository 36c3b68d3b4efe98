package intent

import (
	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/money"
)

// CreateIntentRequest is the input to Engine.CreateIntent (spec.md §4.2).
// BiddingDurationMS/ExecutionTimeoutMS of zero fall back to the engine's
// configured defaults.
type CreateIntentRequest struct {
	Type               string
	Category           string
	Params             map[string]any
	MaxBudget          money.Amount
	Currency           string
	Requirements       domain.Requirements
	BiddingDurationMS  int64
	ExecutionTimeoutMS int64
}

// BidSubmission is the input to Engine.SubmitBid (spec.md §4.2).
type BidSubmission struct {
	BidAmount       money.Amount
	EstimatedTimeMS int64
	Confidence      float64
	Capabilities    []string
}
