package dispute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/coreerr"
	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/escrow"
	"github.com/ocx/synapse-core/internal/events"
	"github.com/ocx/synapse-core/internal/ids"
	"github.com/ocx/synapse-core/internal/money"
	"github.com/ocx/synapse-core/internal/oracle"
)

type fakeIntentReader struct {
	intents map[string]domain.Intent
}

func (f *fakeIntentReader) Snapshot(intentID string) (domain.Intent, bool) {
	i, ok := f.intents[intentID]
	return i, ok
}

func testResolver(t *testing.T, oracles *oracle.Registry, adapter escrow.Adapter, intents IntentReader, cfgOverride func(*config.DisputeResolverConfig)) *Resolver {
	t.Helper()
	cfg := config.Default().DisputeResolver
	if cfgOverride != nil {
		cfgOverride(&cfg)
	}
	clock := ids.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(cfg, ids.NewSource(), clock, events.New(nil), oracles, adapter, intents, nil)
}

func TestResolver_OpenDisputeDeviationBeyondThresholdResolvesClientWins(t *testing.T) {
	oracles := oracle.NewRegistry(nil)
	oracles.Register("crypto.price", oracle.NewMockCryptoPriceOracle(map[string]float64{"BTC": 100}))
	adapter := escrow.NewMockAdapter(map[string]domain.EscrowRecord{
		"escrow_1": {ID: "escrow_1", Amount: mustAmount(t, "1000.00")},
	})
	r := testResolver(t, oracles, adapter, nil, func(c *config.DisputeResolverConfig) {
		c.EnableRealSlashing = true
	})

	d, err := r.OpenDispute(OpenDisputeRequest{
		IntentID:      "int_1",
		EscrowID:      "escrow_1",
		Client:        "client_1",
		Provider:      "prov_1",
		Reason:        domain.ReasonIncorrectData,
		IntentType:    "crypto.price",
		ProvidedValue: map[string]any{"symbol": "BTC", "price": 200.0},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DisputeResolvedClientWins, d.Status)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, domain.VerdictClientWins, d.Resolution.Verdict)
	require.NotNil(t, d.DeviationPct)
	assert.InDelta(t, 100.0, *d.DeviationPct, 0.01)
	require.NotNil(t, d.SlashingRecord)
	assert.Equal(t, mustAmount(t, "100.00"), d.SlashingRecord.SlashedAmount)
}

func TestResolver_OpenDisputeWithinToleranceResolvesProviderWins(t *testing.T) {
	oracles := oracle.NewRegistry(nil)
	oracles.Register("crypto.price", oracle.NewMockCryptoPriceOracle(map[string]float64{"BTC": 100}))
	adapter := escrow.NewMockAdapter(map[string]domain.EscrowRecord{
		"escrow_1": {ID: "escrow_1", Amount: mustAmount(t, "1000.00")},
	})
	r := testResolver(t, oracles, adapter, nil, nil)

	d, err := r.OpenDispute(OpenDisputeRequest{
		IntentID:      "int_1",
		EscrowID:      "escrow_1",
		Client:        "client_1",
		Provider:      "prov_1",
		Reason:        domain.ReasonIncorrectData,
		IntentType:    "crypto.price",
		ProvidedValue: map[string]any{"symbol": "BTC", "price": 101.0},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DisputeResolvedProviderWins, d.Status)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, domain.VerdictProviderWins, d.Resolution.Verdict)
	assert.Nil(t, d.SlashingRecord)
}

func TestResolver_OpenDisputeWithNoOracleReferenceResolvesSplit(t *testing.T) {
	r := testResolver(t, oracle.NewRegistry(nil), nil, nil, nil)

	d, err := r.OpenDispute(OpenDisputeRequest{
		IntentID:      "int_1",
		EscrowID:      "escrow_1",
		Client:        "client_1",
		Provider:      "prov_1",
		Reason:        domain.ReasonQualityIssue,
		ProvidedValue: map[string]any{"foo": "bar"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DisputeResolvedSplit, d.Status)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, domain.VerdictSplit, d.Resolution.Verdict)
	assert.Equal(t, 0.5, d.Resolution.ClientRefund)
}

func TestResolver_OpenDisputeRejectsDuplicateForSameIntent(t *testing.T) {
	r := testResolver(t, oracle.NewRegistry(nil), nil, nil, nil)

	_, err := r.OpenDispute(OpenDisputeRequest{
		IntentID: "int_1", EscrowID: "escrow_1", Client: "client_1", Provider: "prov_1",
		ProvidedValue: map[string]any{"foo": "bar"},
	})
	require.NoError(t, err)

	_, err = r.OpenDispute(OpenDisputeRequest{
		IntentID: "int_1", EscrowID: "escrow_1", Client: "client_1", Provider: "prov_1",
		ProvidedValue: map[string]any{"foo": "bar"},
	})
	assert.ErrorIs(t, err, coreerr.ErrDuplicateDispute)
}

func TestResolver_OpenDisputeRequiresEscrowID(t *testing.T) {
	r := testResolver(t, oracle.NewRegistry(nil), nil, nil, nil)

	_, err := r.OpenDispute(OpenDisputeRequest{IntentID: "int_1"})
	assert.ErrorIs(t, err, coreerr.ErrMissingEscrow)
}

func TestResolver_OpenDisputeWithIntentReaderValidatesExistenceAndDefaults(t *testing.T) {
	reader := &fakeIntentReader{intents: map[string]domain.Intent{
		"int_1": {ID: "int_1", Originator: "client_from_intent", AssignedProvider: "prov_from_intent"},
	}}
	r := testResolver(t, oracle.NewRegistry(nil), nil, reader, nil)

	d, err := r.OpenDispute(OpenDisputeRequest{
		IntentID:      "int_1",
		EscrowID:      "escrow_1",
		ProvidedValue: map[string]any{"foo": "bar"},
	})
	require.NoError(t, err)
	assert.Equal(t, "client_from_intent", d.Client)
	assert.Equal(t, "prov_from_intent", d.Provider)
}

func TestResolver_OpenDisputeWithIntentReaderRejectsUnknownIntent(t *testing.T) {
	reader := &fakeIntentReader{intents: map[string]domain.Intent{}}
	r := testResolver(t, oracle.NewRegistry(nil), nil, reader, nil)

	_, err := r.OpenDispute(OpenDisputeRequest{
		IntentID:      "int_missing",
		EscrowID:      "escrow_1",
		ProvidedValue: map[string]any{"foo": "bar"},
	})
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}

func TestResolver_GetByIntentIDAndListIndexes(t *testing.T) {
	r := testResolver(t, oracle.NewRegistry(nil), nil, nil, nil)

	d, err := r.OpenDispute(OpenDisputeRequest{
		IntentID: "int_1", EscrowID: "escrow_1", Client: "client_1", Provider: "prov_1",
		ProvidedValue: map[string]any{"foo": "bar"},
	})
	require.NoError(t, err)

	byIntent, ok := r.GetByIntentID("int_1")
	require.True(t, ok)
	assert.Equal(t, d.ID, byIntent.ID)

	byClient := r.ListByClient("client_1")
	require.Len(t, byClient, 1)
	assert.Equal(t, d.ID, byClient[0].ID)

	byProvider := r.ListByProvider("prov_1")
	require.Len(t, byProvider, 1)
	assert.Equal(t, d.ID, byProvider[0].ID)
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}
