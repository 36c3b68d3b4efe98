// Package scoring implements the Bid Scorer (spec.md §4.1): a pure,
// deterministic function that turns a bid's multi-dimensional quality
// into a single totally-ordered scalar. No I/O, no clock access, no
// side effects — this keeps the auction property-testable.
package scoring

import (
	"github.com/ocx/synapse-core/internal/domain"
)

// Weights is the documented weighting from spec.md §4.1, exposed as
// configuration (Open Question O1) rather than baked-in constants so a
// caller — e.g. the LLM-bidding marketplace mentioned in spec.md §1 as an
// out-of-scope reuse of the engine — can supply its own tuning without
// forking the scorer.
type Weights struct {
	Price      float64
	Time       float64
	Reputation float64
	Confidence float64
	TEE        float64
}

// DefaultWeights returns the reference weighting from spec.md §4.1.
func DefaultWeights() Weights {
	return Weights{
		Price:      0.35,
		Time:       0.20,
		Reputation: 0.25,
		Confidence: 0.15,
		TEE:        0.05,
	}
}

// DefaultMaxLatencyMS is used to normalize time_score when the intent
// carries no Requirements.MaxLatencyMS.
const DefaultMaxLatencyMS = 30_000

// TEEBonus is the fixed bonus applied when a bid carries tee_attested.
const TEEBonus = 1.0

// Score computes calculated_score for a bid against its intent, per
// spec.md §4.1. The result is scaled to 0..100.
func Score(bid domain.Bid, intent domain.Intent, w Weights) float64 {
	priceScore := 0.0
	if budget := intent.MaxBudget.Float64(); budget > 0 {
		priceScore = 1 - (bid.BidAmount.Float64() / budget)
		priceScore = clamp01(priceScore)
	}

	maxLatency := int64(DefaultMaxLatencyMS)
	if intent.Requirements.MaxLatencyMS != nil && *intent.Requirements.MaxLatencyMS > 0 {
		maxLatency = *intent.Requirements.MaxLatencyMS
	}
	timeScore := 1 - min1(float64(bid.EstimatedTimeMS)/float64(maxLatency))

	reputationScore := clamp01(bid.ReputationScore)
	confidenceScore := clamp01(bid.Confidence)

	teeBonus := 0.0
	if bid.TEEAttested {
		teeBonus = TEEBonus
	}

	return 100 * (w.Price*priceScore +
		w.Time*timeScore +
		w.Reputation*reputationScore +
		w.Confidence*confidenceScore +
		w.TEE*teeBonus)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// Less implements the deterministic tie-break from spec.md §4.1: higher
// calculated_score wins; ties broken by reputation_score desc, then
// submitted_at asc, then bid id asc. Returns true if a ranks strictly
// ahead of b (i.e. a should sort before b in descending rank order).
func Less(a, b domain.Bid) bool {
	if a.CalculatedScore != b.CalculatedScore {
		return a.CalculatedScore > b.CalculatedScore
	}
	if a.ReputationScore != b.ReputationScore {
		return a.ReputationScore > b.ReputationScore
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}
