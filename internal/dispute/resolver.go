// Package dispute implements the Dispute Resolver (C7): turns an
// allegation of provider fault into a verdict and, on provider fault, a
// real escrow slashing. Grounded on the teacher's arbitrator/evidence
// packages (evidence-then-verdict pipeline shape) and its
// internal/reputation/quarantine.go (automated state transition driven by
// accumulated evidence), generalized to spec.md §4.3's deviation test.
// Per spec.md §9 ("no cyclic ownership"), the resolver never holds a
// pointer back into the Intent Engine's internals — only its read-only
// Snapshot accessor.
package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/coreerr"
	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/escrow"
	"github.com/ocx/synapse-core/internal/events"
	"github.com/ocx/synapse-core/internal/ids"
	"github.com/ocx/synapse-core/internal/oracle"
)

// ResolverStats is the Dispute Resolver's monitoring contract (spec.md
// §4.3 "Queries... statistics").
type ResolverStats struct {
	Total                int64
	Open                 int64
	ResolvedClientWins   int64
	ResolvedProviderWins int64
	ResolvedSplit        int64
	SumDeviationPct      float64
	DeviationSamples     int64
}

// Resolver is the Dispute Resolver.
type Resolver struct {
	cfg       config.DisputeResolverConfig
	ids       *ids.Source
	clock     ids.Clock
	bus       *events.Bus
	oracles   *oracle.Registry
	adapter   escrow.Adapter
	slashExec *escrow.SlashExecutor
	intents   IntentReader
	logger    *slog.Logger

	mu         sync.Mutex
	disputes   map[string]*domain.Dispute
	byIntent   map[string]string
	byClient   map[string][]string
	byProvider map[string][]string
	stats      ResolverStats
}

// IntentReader is the read-only accessor the resolver uses to validate an
// intent exists and to default a dispute's client/provider from it,
// without ever holding a pointer back into the Intent Engine (spec.md §3:
// "holds only weak references to intents"; §9: "no cyclic ownership").
// *intent.Engine satisfies this interface.
type IntentReader interface {
	Snapshot(intentID string) (domain.Intent, bool)
}

// New constructs a Resolver. oracles, adapter, and intents may be nil only
// if the caller never opens a dispute that needs them (tests that
// exercise pure validation paths); production wiring always supplies all
// three.
func New(cfg config.DisputeResolverConfig, idSource *ids.Source, clock ids.Clock, bus *events.Bus, oracles *oracle.Registry, adapter escrow.Adapter, intents IntentReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ids.SystemClock{}
	}
	var slashExec *escrow.SlashExecutor
	if adapter != nil {
		slashExec = escrow.NewSlashExecutor(adapter, escrow.SlashExecutorConfig{}, logger)
	}
	return &Resolver{
		cfg:        cfg,
		ids:        idSource,
		clock:      clock,
		bus:        bus,
		oracles:    oracles,
		adapter:    adapter,
		slashExec:  slashExec,
		intents:    intents,
		logger:     logger.With("component", "dispute.resolver"),
		disputes:   make(map[string]*domain.Dispute),
		byIntent:   make(map[string]string),
		byClient:   make(map[string][]string),
		byProvider: make(map[string][]string),
	}
}

// OpenDispute opens a dispute and synchronously runs the evidence
// pipeline through to a verdict (spec.md §4.3). At most one dispute may
// exist per intent id (I6).
func (r *Resolver) OpenDispute(req OpenDisputeRequest) (domain.Dispute, error) {
	if req.IntentID == "" {
		return domain.Dispute{}, fmt.Errorf("%w: intent id is required", coreerr.ErrInvalidInput)
	}
	if req.EscrowID == "" {
		return domain.Dispute{}, fmt.Errorf("%w", coreerr.ErrMissingEscrow)
	}

	client, provider := req.Client, req.Provider
	if r.intents != nil {
		snap, ok := r.intents.Snapshot(req.IntentID)
		if !ok {
			return domain.Dispute{}, fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, req.IntentID)
		}
		if client == "" {
			client = snap.Originator
		}
		if provider == "" {
			provider = snap.AssignedProvider
		}
	}

	r.mu.Lock()
	if _, exists := r.byIntent[req.IntentID]; exists {
		r.mu.Unlock()
		return domain.Dispute{}, fmt.Errorf("%w", coreerr.ErrDuplicateDispute)
	}
	now := r.clock.Now()
	d := &domain.Dispute{
		ID:            r.ids.New(ids.TagDispute),
		IntentID:      req.IntentID,
		EscrowID:      req.EscrowID,
		Client:        client,
		Provider:      provider,
		Reason:        req.Reason,
		Description:   req.Description,
		Status:        domain.DisputeOpened,
		ProvidedValue: req.ProvidedValue,
		CreatedAt:     now,
	}
	r.disputes[d.ID] = d
	r.byIntent[req.IntentID] = d.ID
	r.byClient[client] = append(r.byClient[client], d.ID)
	r.byProvider[provider] = append(r.byProvider[provider], d.ID)
	r.stats.Total++
	r.stats.Open++
	snapshot := *d
	r.mu.Unlock()

	r.publish(events.Event{Kind: events.DisputeOpened, Subject: d.ID, At: now, Payload: snapshot})

	r.runEvidencePipeline(d.ID, req)
	final, _ := r.GetByID(d.ID)
	return final, nil
}

// runEvidencePipeline implements spec.md §4.3's numbered evidence steps.
// Ordering per spec.md §5: evidence appends strictly precede the oracle
// await; verdict computation and the resolved_* transition happen after
// the oracle resolves; the slashing call happens after resolution commits.
func (r *Resolver) runEvidencePipeline(disputeID string, req OpenDisputeRequest) {
	r.transitionLocked(disputeID, domain.DisputeEvidenceCollection)

	r.appendEvidence(disputeID, domain.SubmitterProvider, "execution_proof", req.ProvidedValue)

	if req.ExpectedValue != nil {
		r.appendEvidence(disputeID, domain.SubmitterClient, "reference_data", req.ExpectedValue)
	}

	intentType := req.IntentType
	if intentType == "" {
		intentType = oracle.InferType(req.ProvidedValue)
	}

	var referenceValue any
	haveReference := false
	if intentType != "" && r.oracles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.evidenceTimeout())
		referenceValue, haveReference = r.oracles.Lookup(ctx, intentType, paramsOf(req.ProvidedValue))
		cancel()
		if haveReference {
			r.appendEvidence(disputeID, domain.SubmitterOracle, "reference_value", referenceValue)
		}
	}

	r.transitionLocked(disputeID, domain.DisputeUnderReview)
	r.autoResolve(disputeID, referenceValue, haveReference)
}

func (r *Resolver) evidenceTimeout() time.Duration {
	if r.cfg.EvidenceTimeoutMS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.cfg.EvidenceTimeoutMS) * time.Millisecond
}

func (r *Resolver) appendEvidence(disputeID string, submitter domain.EvidenceSubmitter, evType string, payload any) {
	r.mu.Lock()
	d, ok := r.disputes[disputeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()
	entry := domain.Evidence{
		ID:        r.ids.New(ids.TagEvidence),
		Submitter: submitter,
		Type:      evType,
		Payload:   payload,
		Timestamp: now,
	}
	d.Evidence = append(d.Evidence, entry)
	snapshot := *d
	r.mu.Unlock()

	r.publish(events.Event{Kind: events.DisputeEvidence, Subject: disputeID, At: now, Payload: snapshot})
}

func (r *Resolver) transitionLocked(disputeID string, status domain.DisputeStatus) {
	r.mu.Lock()
	if d, ok := r.disputes[disputeID]; ok {
		d.Status = status
	}
	r.mu.Unlock()
}

// autoResolve implements the deviation test and verdict computation
// (spec.md §4.3), then triggers slashing on client_wins.
func (r *Resolver) autoResolve(disputeID string, referenceValue any, haveReference bool) {
	r.mu.Lock()
	d, ok := r.disputes[disputeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	provided := d.ProvidedValue
	r.mu.Unlock()

	var resolution domain.Resolution
	var deviationPct *float64

	providedNum, providedOK := extractNumeric(provided)
	referenceNum, referenceOK := 0.0, false
	if haveReference {
		referenceNum, referenceOK = extractNumeric(referenceValue)
	}

	switch {
	case !providedOK || !referenceOK || referenceNum == 0:
		resolution = domain.Resolution{
			Verdict:     domain.VerdictSplit,
			ClientRefund:    0.5,
			ProviderPayment: 0.5,
			Explanation: "unable to determine fault",
		}
	default:
		deviation := math.Abs(providedNum-referenceNum) / math.Abs(referenceNum)
		pct := deviation * 100
		deviationPct = &pct
		if deviation > r.cfg.DeviationThreshold {
			penalty := clamp(r.cfg.MinReputationPenalty+deviation*0.5, r.cfg.MinReputationPenalty, r.cfg.MaxReputationPenalty)
			resolution = domain.Resolution{
				Verdict:           domain.VerdictClientWins,
				ClientRefund:      1.0,
				ProviderPayment:   0,
				SlashFraction:     r.cfg.SlashPercentage,
				ReputationPenalty: penalty,
				Explanation:       fmt.Sprintf("deviation %.2f%% exceeds the %.2f%% threshold", pct, r.cfg.DeviationThreshold*100),
			}
		} else {
			resolution = domain.Resolution{
				Verdict:         domain.VerdictProviderWins,
				ClientRefund:    0,
				ProviderPayment: 1.0,
				Explanation:     fmt.Sprintf("deviation %.2f%% within the %.2f%% threshold", pct, r.cfg.DeviationThreshold*100),
			}
		}
	}

	r.mu.Lock()
	now := r.clock.Now()
	d.ReferenceValue = referenceValue
	d.DeviationPct = deviationPct
	d.Resolution = &resolution
	d.ResolvedAt = &now
	switch resolution.Verdict {
	case domain.VerdictClientWins:
		d.Status = domain.DisputeResolvedClientWins
		r.stats.ResolvedClientWins++
	case domain.VerdictProviderWins:
		d.Status = domain.DisputeResolvedProviderWins
		r.stats.ResolvedProviderWins++
	default:
		d.Status = domain.DisputeResolvedSplit
		r.stats.ResolvedSplit++
	}
	r.stats.Open--
	if deviationPct != nil {
		r.stats.SumDeviationPct += *deviationPct
		r.stats.DeviationSamples++
	}
	snapshot := *d
	r.mu.Unlock()

	r.publish(events.Event{Kind: events.DisputeResolved, Subject: disputeID, At: now, Payload: snapshot})

	if resolution.Verdict == domain.VerdictClientWins {
		r.trySlash(disputeID, snapshot)
	}
}

// trySlash runs the best-effort escrow slash for a client_wins verdict
// (spec.md §4.3, I8). A slashing failure is logged but never reopens the
// dispute (spec.md §7 item 4).
func (r *Resolver) trySlash(disputeID string, d domain.Dispute) {
	if !r.cfg.EnableRealSlashing || r.slashExec == nil || r.adapter == nil {
		return
	}

	ctx := context.Background()
	rec, ok, err := r.adapter.Get(ctx, d.EscrowID)
	if err != nil || !ok {
		r.logger.Error("escrow lookup failed before slash", "dispute_id", disputeID, "escrow_id", d.EscrowID, "error", err)
		return
	}

	recipient := r.cfg.PlatformWalletAddress
	if recipient == "" {
		recipient = d.Client
	}
	slashAmount := rec.Amount.Mul(d.Resolution.SlashFraction)

	result, ok := r.slashExec.Execute(ctx, disputeID, d.EscrowID, slashAmount, recipient, string(d.Reason))
	if !ok {
		return
	}

	r.mu.Lock()
	if stored, exists := r.disputes[disputeID]; exists {
		stored.SlashingRecord = &domain.SlashingRecord{
			TxID:          result.TxID,
			SlashedAmount: result.SlashedAmount,
			Recipient:     result.Recipient,
			ExecutedAt:    result.ExecutedAt,
		}
	}
	r.mu.Unlock()
}

// GetByID returns a dispute by id.
func (r *Resolver) GetByID(id string) (domain.Dispute, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[id]
	if !ok {
		return domain.Dispute{}, false
	}
	return *d, true
}

// GetByIntentID looks a dispute up via the secondary index (spec.md §3).
func (r *Resolver) GetByIntentID(intentID string) (domain.Dispute, bool) {
	r.mu.Lock()
	id, ok := r.byIntent[intentID]
	r.mu.Unlock()
	if !ok {
		return domain.Dispute{}, false
	}
	return r.GetByID(id)
}

// ListByClient returns every dispute a client opened.
func (r *Resolver) ListByClient(client string) []domain.Dispute {
	return r.listByIndex(r.byClient, client)
}

// ListByProvider returns every dispute naming a provider.
func (r *Resolver) ListByProvider(provider string) []domain.Dispute {
	return r.listByIndex(r.byProvider, provider)
}

func (r *Resolver) listByIndex(index map[string][]string, key string) []domain.Dispute {
	r.mu.Lock()
	disputeIDs := append([]string(nil), index[key]...)
	r.mu.Unlock()

	out := make([]domain.Dispute, 0, len(disputeIDs))
	for _, id := range disputeIDs {
		if d, ok := r.GetByID(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// Stats returns the resolver's monitoring contract.
func (r *Resolver) Stats() ResolverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Resolver) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// extractNumeric implements spec.md §4.3's explicit extraction rules: a
// bare number; else a .price field; else .temperature; else .value.
func extractNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case map[string]any:
		for _, key := range []string{"price", "temperature", "value"} {
			if raw, ok := n[key]; ok {
				if f, ok := extractNumeric(raw); ok {
					return f, true
				}
			}
		}
	}
	return 0, false
}

// paramsOf adapts an arbitrary provided value into the map[string]any the
// oracle registry's capabilities expect.
func paramsOf(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
