package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/coreerr"
	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/events"
	"github.com/ocx/synapse-core/internal/ids"
	"github.com/ocx/synapse-core/internal/money"
	"github.com/ocx/synapse-core/internal/scoring"
)

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func testEngine(t *testing.T) (*Engine, *ids.FakeClock) {
	t.Helper()
	cfg := config.Default().IntentEngine
	cfg.CleanupIntervalMS = int64(time.Hour / time.Millisecond)
	clock := ids.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e := New(cfg, scoring.DefaultWeights(), ids.NewSource(), clock, events.New(nil), nil, nil)
	t.Cleanup(e.Stop)
	return e, clock
}

func provider(addr string, reputation float64) domain.ProviderProfile {
	return domain.ProviderProfile{Address: addr, ProviderID: "prov_" + addr, ReputationScore: reputation}
}

func TestEngine_HappyAuctionSelectsHighestScoringBid(t *testing.T) {
	e, _ := testEngine(t)

	created, err := e.CreateIntent(CreateIntentRequest{
		Type:      "crypto.price",
		MaxBudget: mustAmount(t, "100.00"),
	}, "client_1")
	require.NoError(t, err)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "50.00"), EstimatedTimeMS: 2000, Confidence: 0.8}, provider("prov_a", 0.5))
	require.NoError(t, err)
	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "20.00"), EstimatedTimeMS: 2000, Confidence: 0.8}, provider("prov_b", 0.5))
	require.NoError(t, err)

	require.NoError(t, e.ForceCloseBidding(created.ID))

	snap, ok := e.Snapshot(created.ID)
	require.True(t, ok)
	assert.Equal(t, domain.IntentAssigned, snap.Status)
	assert.Equal(t, "prov_b", snap.AssignedProvider, "cheaper bid should win")
	assert.Equal(t, []string{"prov_a"}, snap.FailoverQueue)

	bids, err := e.GetBidsForIntent(created.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, domain.BidAccepted, bids[0].Status)
	assert.Equal(t, domain.BidFailover, bids[1].Status)
}

func TestEngine_FailoverAdvancesToNextQueuedProvider(t *testing.T) {
	e, _ := testEngine(t)

	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "50.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	require.NoError(t, err)
	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "20.00"), EstimatedTimeMS: 1000}, provider("prov_b", 0.5))
	require.NoError(t, err)

	require.NoError(t, e.ForceCloseBidding(created.ID))
	snap, _ := e.Snapshot(created.ID)
	require.Equal(t, "prov_b", snap.AssignedProvider)

	require.NoError(t, e.TriggerFailover(created.ID))

	snap, _ = e.Snapshot(created.ID)
	assert.Equal(t, domain.IntentAssigned, snap.Status)
	assert.Equal(t, "prov_a", snap.AssignedProvider)
	assert.Empty(t, snap.FailoverQueue)

	bids, err := e.GetBidsForIntent(created.ID)
	require.NoError(t, err)
	for _, b := range bids {
		switch b.ProviderAddress {
		case "prov_b":
			assert.Equal(t, domain.BidFailed, b.Status)
		case "prov_a":
			assert.Equal(t, domain.BidAccepted, b.Status)
		}
	}
}

func TestEngine_AllProvidersFailMarksIntentFailed(t *testing.T) {
	e, _ := testEngine(t)

	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "20.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	require.NoError(t, err)

	require.NoError(t, e.ForceCloseBidding(created.ID))
	require.NoError(t, e.TriggerFailover(created.ID))

	snap, _ := e.Snapshot(created.ID)
	assert.Equal(t, domain.IntentFailed, snap.Status)
	assert.Equal(t, "all providers failed", snap.FailureReason)
	assert.Empty(t, snap.AssignedProvider)
}

func TestEngine_NoBidsMarksIntentFailed(t *testing.T) {
	e, _ := testEngine(t)

	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)

	require.NoError(t, e.ForceCloseBidding(created.ID))

	snap, _ := e.Snapshot(created.ID)
	assert.Equal(t, domain.IntentFailed, snap.Status)
	assert.Equal(t, "no bids received", snap.FailureReason)
}

// P1: bid rank is always 1-based and contiguous, re-derived on every insert.
func TestEngine_PropertyRanksAreContiguousAfterEveryInsert(t *testing.T) {
	e, _ := testEngine(t)
	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)

	for i, addr := range []string{"prov_a", "prov_b", "prov_c"} {
		_, err := e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "10.00"), EstimatedTimeMS: int64(1000 + i)}, provider(addr, 0.5))
		require.NoError(t, err)

		bids, err := e.GetBidsForIntent(created.ID)
		require.NoError(t, err)
		ranks := make(map[int]bool)
		for _, b := range bids {
			ranks[b.Rank] = true
		}
		for r := 1; r <= len(bids); r++ {
			assert.True(t, ranks[r], "rank %d missing after %d bids", r, len(bids))
		}
	}
}

// P2: only the currently assigned provider may submit a result.
func TestEngine_PropertyOnlyAssignedProviderMaySubmitResult(t *testing.T) {
	e, _ := testEngine(t)
	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)
	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "10.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	require.NoError(t, err)
	require.NoError(t, e.ForceCloseBidding(created.ID))
	require.NoError(t, e.MarkExecutionStarted(created.ID))

	err = e.SubmitResult(created.ID, "prov_not_assigned", domain.IntentResult{})
	assert.ErrorIs(t, err, coreerr.ErrNotOwner)

	err = e.SubmitResult(created.ID, "prov_a", domain.IntentResult{})
	assert.NoError(t, err)
}

// P9: cancelling an intent is only permitted by its originator, pre-execution.
func TestEngine_PropertyCancelOnlyByOriginatorPreExecution(t *testing.T) {
	e, _ := testEngine(t)
	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)

	err = e.CancelIntent(created.ID, "someone_else")
	assert.ErrorIs(t, err, coreerr.ErrNotOwner)

	require.NoError(t, e.CancelIntent(created.ID, "client_1"))
	snap, _ := e.Snapshot(created.ID)
	assert.Equal(t, domain.IntentCancelled, snap.Status)

	err = e.CancelIntent(created.ID, "client_1")
	assert.ErrorIs(t, err, coreerr.ErrWrongStatus)
}

func TestEngine_SubmitBidRejectsBelowMinOrAboveBudget(t *testing.T) {
	e, _ := testEngine(t)
	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "0.001"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	assert.ErrorIs(t, err, coreerr.ErrBidOutOfBounds)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "1000.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	assert.ErrorIs(t, err, coreerr.ErrBidOutOfBounds)
}

func TestEngine_SubmitBidRejectsDuplicateProvider(t *testing.T) {
	e, _ := testEngine(t)
	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "10.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	require.NoError(t, err)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "11.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	assert.ErrorIs(t, err, coreerr.ErrDuplicateBid)
}

func TestEngine_SubmitBidRejectsWhenTEERequiredAndBidderNotAttested(t *testing.T) {
	e, _ := testEngine(t)
	created, err := e.CreateIntent(CreateIntentRequest{
		Type:         "crypto.price",
		MaxBudget:    mustAmount(t, "100.00"),
		Requirements: domain.Requirements{TEERequired: true},
	}, "client_1")
	require.NoError(t, err)

	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "10.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	assert.ErrorIs(t, err, coreerr.ErrTEERequired)
}

func TestEngine_EvictLockedDeletesIntentAndBidsTogether(t *testing.T) {
	e, clock := testEngine(t)
	created, err := e.CreateIntent(CreateIntentRequest{Type: "crypto.price", MaxBudget: mustAmount(t, "100.00")}, "client_1")
	require.NoError(t, err)
	_, err = e.SubmitBid(created.ID, BidSubmission{BidAmount: mustAmount(t, "10.00"), EstimatedTimeMS: 1000}, provider("prov_a", 0.5))
	require.NoError(t, err)
	require.NoError(t, e.CancelIntent(created.ID, "client_1"))

	clock.Advance(2 * time.Hour)
	e.cleanup()

	_, ok := e.Snapshot(created.ID)
	assert.False(t, ok)
	_, err = e.GetBidsForIntent(created.ID)
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}
