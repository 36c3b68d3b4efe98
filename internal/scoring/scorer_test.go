package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/money"
)

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func TestScore_CheaperBidScoresHigherOnPrice(t *testing.T) {
	w := DefaultWeights()
	intent := domain.Intent{MaxBudget: mustAmount(t, "100.00")}

	cheap := domain.Bid{BidAmount: mustAmount(t, "10.00"), EstimatedTimeMS: 1000, ReputationScore: 0.5, Confidence: 0.5}
	expensive := domain.Bid{BidAmount: mustAmount(t, "90.00"), EstimatedTimeMS: 1000, ReputationScore: 0.5, Confidence: 0.5}

	assert.Greater(t, Score(cheap, intent, w), Score(expensive, intent, w))
}

func TestScore_TEEBonusIncreasesScore(t *testing.T) {
	w := DefaultWeights()
	intent := domain.Intent{MaxBudget: mustAmount(t, "100.00")}

	base := domain.Bid{BidAmount: mustAmount(t, "50.00"), EstimatedTimeMS: 5000, ReputationScore: 0.5, Confidence: 0.5}
	attested := base
	attested.TEEAttested = true

	assert.Greater(t, Score(attested, intent, w), Score(base, intent, w))
}

func TestScore_ZeroBudgetDoesNotPanic(t *testing.T) {
	w := DefaultWeights()
	intent := domain.Intent{}
	bid := domain.Bid{BidAmount: mustAmount(t, "10.00"), EstimatedTimeMS: 1000}

	assert.NotPanics(t, func() { Score(bid, intent, w) })
}

func TestLess_ScoreDescPrimary(t *testing.T) {
	a := domain.Bid{ID: "bid_a", CalculatedScore: 80}
	b := domain.Bid{ID: "bid_b", CalculatedScore: 60}
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestLess_TieBreaksByReputationThenTimeThenID(t *testing.T) {
	now := time.Now()

	sameScore := domain.Bid{ID: "bid_x", CalculatedScore: 50, ReputationScore: 0.9, SubmittedAt: now}
	lowerRep := domain.Bid{ID: "bid_y", CalculatedScore: 50, ReputationScore: 0.5, SubmittedAt: now}
	assert.True(t, Less(sameScore, lowerRep))

	earlier := domain.Bid{ID: "bid_e", CalculatedScore: 50, ReputationScore: 0.5, SubmittedAt: now}
	later := domain.Bid{ID: "bid_l", CalculatedScore: 50, ReputationScore: 0.5, SubmittedAt: now.Add(time.Second)}
	assert.True(t, Less(earlier, later))

	tieA := domain.Bid{ID: "bid_a", CalculatedScore: 50, ReputationScore: 0.5, SubmittedAt: now}
	tieB := domain.Bid{ID: "bid_b", CalculatedScore: 50, ReputationScore: 0.5, SubmittedAt: now}
	assert.True(t, Less(tieA, tieB))
	assert.False(t, Less(tieB, tieA))
}
