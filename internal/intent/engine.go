// Package intent implements the Intent & Bidding Engine (C4): sole owner
// of intents and bids, the auction state machine, the two timer families,
// and memory reclamation. Grounded on the teacher's internal/marketplace
// (intent lifecycle shape) and internal/circuitbreaker (lock-serialized
// state machine driven by a background goroutine), generalized to
// spec.md §4.2's command surface. Concurrency style (b) from spec.md §5:
// parallel callers admitted, every mutation serialized under mu, timers
// re-enter under the same lock, subscribers notified after it is released.
package intent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/coreerr"
	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/events"
	"github.com/ocx/synapse-core/internal/ids"
	"github.com/ocx/synapse-core/internal/money"
	"github.com/ocx/synapse-core/internal/scoring"
)

const platformMinBiddingDurationMS = 1000

// EngineStats is the monitoring contract from spec.md §4.2.
type EngineStats struct {
	IntentsCreated     int64
	IntentsCompleted   int64
	IntentsFailed      int64
	IntentsCancelled   int64
	BidsReceived       int64
	FailoversPerformed int64
	CleanupRuns        int64
	IntentsEvicted     int64
	ActiveIntents      int64
	ActiveTimers       int64
}

// Engine is the Intent & Bidding Engine.
type Engine struct {
	cfg     config.IntentEngineConfig
	weights scoring.Weights
	ids     *ids.Source
	clock   ids.Clock
	bus     *events.Bus
	logger  *slog.Logger
	metrics *Metrics

	mu            sync.Mutex
	intents       map[string]*domain.Intent
	bids          map[string][]*domain.Bid
	terminalAt    map[string]time.Time
	terminalOrder []string

	stats EngineStats

	sched *scheduler

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// New constructs an Engine and starts its scheduler and cleanup goroutines.
// Callers must call Stop to release them.
func New(cfg config.IntentEngineConfig, weights scoring.Weights, idSource *ids.Source, clock ids.Clock, bus *events.Bus, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ids.SystemClock{}
	}
	e := &Engine{
		cfg:         cfg,
		weights:     weights,
		ids:         idSource,
		clock:       clock,
		bus:         bus,
		metrics:     metrics,
		logger:      logger.With("component", "intent.engine"),
		intents:     make(map[string]*domain.Intent),
		bids:        make(map[string][]*domain.Bid),
		terminalAt:  make(map[string]time.Time),
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	e.sched = newScheduler(e.onTimerFire)
	go e.runCleanupLoop()
	return e
}

// Stop halts the scheduler and cleanup goroutines. The cleanup timer must
// not keep the process alive after external shutdown (spec.md §4.2).
func (e *Engine) Stop() {
	close(e.cleanupStop)
	<-e.cleanupDone
	e.sched.Stop()
}

// CreateIntent validates and stores a new Intent, scheduling its bidding
// deadline (spec.md §4.2).
func (e *Engine) CreateIntent(req CreateIntentRequest, clientAddress string) (domain.Intent, error) {
	if req.Type == "" {
		return domain.Intent{}, fmt.Errorf("%w: intent type is required", coreerr.ErrInvalidInput)
	}
	if req.MaxBudget.Cmp(e.cfg.MinBidAmountParsed()) <= 0 {
		return domain.Intent{}, fmt.Errorf("%w: max_budget must exceed the platform minimum bid", coreerr.ErrInvalidInput)
	}
	biddingDur := time.Duration(req.BiddingDurationMS) * time.Millisecond
	if req.BiddingDurationMS == 0 {
		biddingDur = time.Duration(e.cfg.DefaultBiddingDurationMS) * time.Millisecond
	}
	if biddingDur < platformMinBiddingDurationMS*time.Millisecond {
		return domain.Intent{}, fmt.Errorf("%w: bidding_duration below platform minimum", coreerr.ErrInvalidInput)
	}
	execTimeout := time.Duration(req.ExecutionTimeoutMS) * time.Millisecond
	if req.ExecutionTimeoutMS == 0 {
		execTimeout = time.Duration(e.cfg.DefaultExecutionTimeoutMS) * time.Millisecond
	}

	now := e.clock.Now()
	intent := &domain.Intent{
		ID:                e.ids.New(ids.TagIntent),
		Originator:        clientAddress,
		Type:              req.Type,
		Category:          req.Category,
		Params:            req.Params,
		MaxBudget:         req.MaxBudget,
		Currency:          req.Currency,
		Requirements:      req.Requirements,
		CreatedAt:         now,
		BiddingDeadline:   now.Add(biddingDur),
		ExecutionDeadline: now.Add(biddingDur + execTimeout),
		Status:            domain.IntentOpen,
	}

	e.mu.Lock()
	e.intents[intent.ID] = intent
	e.stats.IntentsCreated++
	e.sched.Schedule(timerKey{intentID: intent.ID, kind: timerBidding}, intent.BiddingDeadline)
	snapshot := *intent
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.observeCreated()
	}
	e.publish(events.Event{Kind: events.IntentCreated, Subject: intent.ID, At: now, Payload: snapshot})
	return snapshot, nil
}

// SubmitBid validates submission against intent, scores it, inserts it,
// re-ranks the intent's bids, and emits bid:received (spec.md §4.2).
func (e *Engine) SubmitBid(intentID string, submission BidSubmission, provider domain.ProviderProfile) (domain.Bid, error) {
	e.mu.Lock()

	intent, ok := e.intents[intentID]
	if !ok {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	if intent.Status != domain.IntentOpen {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("%w: intent is not accepting bids", coreerr.ErrBiddingClosed)
	}
	now := e.clock.Now()
	if now.After(intent.BiddingDeadline) {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("%w: bidding deadline has passed", coreerr.ErrBiddingClosed)
	}
	if submission.BidAmount.Cmp(e.cfg.MinBidAmountParsed()) < 0 || submission.BidAmount.Cmp(intent.MaxBudget) > 0 {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("%w: bid_amount must be within [min_bid_amount, max_budget]", coreerr.ErrBidOutOfBounds)
	}
	reputation := provider.ReputationScore
	if reputation > 1 {
		// A score above 1 is on the 0..5 scale; store it on [0,1].
		reputation /= 5.0
	}
	if reputation < intent.Requirements.MinReputation {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("%w", coreerr.ErrReputationTooLow)
	}
	if intent.Requirements.TEERequired && !provider.TEEAttested {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("%w", coreerr.ErrTEERequired)
	}
	for _, excluded := range intent.Requirements.ExcludedProviders {
		if excluded == provider.Address {
			e.mu.Unlock()
			return domain.Bid{}, fmt.Errorf("%w", coreerr.ErrProviderExcluded)
		}
	}
	existing := e.bids[intentID]
	if len(existing) >= e.cfg.MaxBidsPerIntent {
		e.mu.Unlock()
		return domain.Bid{}, fmt.Errorf("%w: max_bids_per_intent reached", coreerr.ErrInvalidInput)
	}
	for _, b := range existing {
		if b.ProviderAddress == provider.Address {
			e.mu.Unlock()
			return domain.Bid{}, fmt.Errorf("%w", coreerr.ErrDuplicateBid)
		}
	}

	bid := &domain.Bid{
		ID:              e.ids.New(ids.TagBid),
		IntentID:        intentID,
		ProviderAddress: provider.Address,
		ProviderID:      provider.ProviderID,
		BidAmount:       submission.BidAmount,
		EstimatedTimeMS: submission.EstimatedTimeMS,
		Confidence:      submission.Confidence,
		ReputationScore: reputation,
		TEEAttested:     provider.TEEAttested,
		Capabilities:    submission.Capabilities,
		SubmittedAt:     now,
		ExpiresAt:       intent.ExecutionDeadline,
		Status:          domain.BidPending,
	}
	bid.CalculatedScore = scoring.Score(*bid, *intent, e.weights)

	e.bids[intentID] = append(e.bids[intentID], bid)
	e.rerank(intentID)
	e.stats.BidsReceived++
	snapshot := *bid
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.observeBidReceived()
	}
	e.publish(events.Event{Kind: events.BidReceived, Subject: intentID, At: now, Payload: snapshot})
	return snapshot, nil
}

// GetBidsForIntent returns a rank-ordered snapshot of an intent's bids.
func (e *Engine) GetBidsForIntent(intentID string) ([]domain.Bid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.intents[intentID]; !ok {
		return nil, fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	list := e.bids[intentID]
	out := make([]domain.Bid, len(list))
	for i, b := range list {
		out[i] = *b
	}
	return out, nil
}

// Snapshot returns a read-only copy of an intent, used by the Dispute
// Resolver's read-only accessor (spec.md §9: "no cyclic ownership").
func (e *Engine) Snapshot(intentID string) (domain.Intent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	intent, ok := e.intents[intentID]
	if !ok {
		return domain.Intent{}, false
	}
	return *intent, true
}

// ForceCloseBidding is the test/demo utility that collapses the bidding
// timer immediately (spec.md §4.2).
func (e *Engine) ForceCloseBidding(intentID string) error {
	e.mu.Lock()
	if _, ok := e.intents[intentID]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	e.sched.Cancel(timerKey{intentID: intentID, kind: timerBidding})
	toEmit := e.closeBiddingLocked(intentID)
	e.mu.Unlock()

	e.publishAll(toEmit)
	return nil
}

// MarkExecutionStarted moves assigned -> executing and rearms the
// execution timer to the intent's full execution_deadline (spec.md §4.2).
func (e *Engine) MarkExecutionStarted(intentID string) error {
	e.mu.Lock()
	intent, ok := e.intents[intentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	if intent.Status != domain.IntentAssigned {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent is not assigned", coreerr.ErrWrongStatus)
	}
	intent.Status = domain.IntentExecuting
	e.sched.Schedule(timerKey{intentID: intentID, kind: timerExecution}, intent.ExecutionDeadline)
	snapshot := *intent
	e.mu.Unlock()

	e.publish(events.Event{Kind: events.IntentUpdated, Subject: intentID, At: e.clock.Now(), Payload: snapshot})
	return nil
}

// SubmitResult is only honored from the currently assigned provider; it
// completes the intent and marks the winning bid executed (spec.md §4.2).
func (e *Engine) SubmitResult(intentID, providerAddress string, result domain.IntentResult) error {
	e.mu.Lock()
	intent, ok := e.intents[intentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	if intent.Status != domain.IntentExecuting {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent is not executing", coreerr.ErrWrongStatus)
	}
	if intent.AssignedProvider != providerAddress {
		e.mu.Unlock()
		return fmt.Errorf("%w: caller is not the assigned provider", coreerr.ErrNotOwner)
	}

	e.sched.CancelIntent(intentID)
	now := e.clock.Now()
	result.CompletedAt = now
	intent.Result = &result
	intent.Status = domain.IntentCompleted

	for _, b := range e.bids[intentID] {
		if b.ProviderAddress == providerAddress && b.Status == domain.BidAccepted {
			b.Status = domain.BidExecuted
			break
		}
	}
	e.markTerminalLocked(intentID, now)
	e.stats.IntentsCompleted++
	snapshot := *intent
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.observeCompleted()
	}
	e.publish(events.Event{Kind: events.IntentCompleted, Subject: intentID, At: now, Payload: snapshot})
	return nil
}

// TriggerFailover runs the execution-timeout/failover algorithm on demand
// (spec.md §4.2); the scheduler calls the same logic when the execution
// timer fires.
func (e *Engine) TriggerFailover(intentID string) error {
	e.mu.Lock()
	intent, ok := e.intents[intentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	if intent.Status != domain.IntentAssigned && intent.Status != domain.IntentExecuting {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent is not in an active assignment", coreerr.ErrWrongStatus)
	}
	toEmit := e.runFailoverLocked(intentID)
	e.mu.Unlock()

	e.publishAll(toEmit)
	return nil
}

// RecordPayment writes settlement fields on a completed intent's result
// and emits payment:settled (spec.md §4.2).
func (e *Engine) RecordPayment(intentID string, amount money.Amount, txOpaqueID string) error {
	e.mu.Lock()
	intent, ok := e.intents[intentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	if intent.Result == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent has no result to settle", coreerr.ErrWrongStatus)
	}
	intent.Result.SettledAmount = amount
	intent.Result.SettlementTxID = txOpaqueID
	snapshot := *intent
	e.mu.Unlock()

	e.publish(events.Event{Kind: events.PaymentSettled, Subject: intentID, At: e.clock.Now(), Payload: snapshot})
	return nil
}

// CancelIntent is only honored from the originator and only in a
// non-terminal, pre-execution state (spec.md §4.2).
func (e *Engine) CancelIntent(intentID, clientAddress string) error {
	e.mu.Lock()
	intent, ok := e.intents[intentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: intent %s", coreerr.ErrNotFound, intentID)
	}
	if intent.Originator != clientAddress {
		e.mu.Unlock()
		return fmt.Errorf("%w", coreerr.ErrNotOwner)
	}
	switch intent.Status {
	case domain.IntentOpen, domain.IntentBiddingClosed, domain.IntentAssigned:
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: intent cannot be cancelled from its current status", coreerr.ErrWrongStatus)
	}

	e.sched.CancelIntent(intentID)
	now := e.clock.Now()
	intent.Status = domain.IntentCancelled
	e.markTerminalLocked(intentID, now)
	e.stats.IntentsCancelled++
	snapshot := *intent
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.observeCancelled()
	}
	e.publish(events.Event{Kind: events.IntentUpdated, Subject: intentID, At: now, Payload: snapshot})
	return nil
}

// Stats returns a snapshot of the engine's monitoring contract.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.ActiveIntents = int64(len(e.intents))
	s.ActiveTimers = int64(e.sched.ActiveCount())
	return s
}

// rerank re-derives bid.rank for every bid on an intent (spec.md §3: "rank
// (1-based, re-derived on every bid insert)"). Caller must hold e.mu.
func (e *Engine) rerank(intentID string) {
	list := e.bids[intentID]
	sort.SliceStable(list, func(i, j int) bool {
		return scoring.Less(*list[i], *list[j])
	})
	for i, b := range list {
		b.Rank = i + 1
	}
}

// closeBiddingLocked runs bidding closure and, when at least one bid
// exists, winner selection (spec.md §4.2). Caller must hold e.mu.
func (e *Engine) closeBiddingLocked(intentID string) []events.Event {
	intent := e.intents[intentID]
	now := e.clock.Now()

	var pendingHead *domain.Bid
	for _, b := range e.bids[intentID] {
		if b.Status == domain.BidPending {
			pendingHead = b
			break
		}
	}

	if pendingHead == nil {
		intent.Status = domain.IntentFailed
		intent.FailureReason = "no bids received"
		e.markTerminalLocked(intentID, now)
		e.stats.IntentsFailed++
		if e.metrics != nil {
			e.metrics.observeFailed()
		}
		return []events.Event{{Kind: events.IntentFailed, Subject: intentID, Reason: intent.FailureReason, At: now, Payload: *intent}}
	}

	intent.Status = domain.IntentBiddingClosed

	var failoverQueue []string
	for _, b := range e.bids[intentID] {
		if b == pendingHead {
			continue
		}
		if b.Status == domain.BidPending {
			b.Status = domain.BidFailover
			failoverQueue = append(failoverQueue, b.ProviderAddress)
		}
	}
	pendingHead.Status = domain.BidAccepted
	intent.AssignedProvider = pendingHead.ProviderAddress
	intent.FailoverQueue = failoverQueue
	intent.Status = domain.IntentAssigned

	e.sched.Schedule(timerKey{intentID: intentID, kind: timerExecution}, now.Add(time.Duration(e.cfg.FailoverTimeoutMS)*time.Millisecond))

	snapshot := *intent
	return []events.Event{
		{Kind: events.WinnerSelected, Subject: intentID, At: now, Payload: snapshot},
		{Kind: events.IntentUpdated, Subject: intentID, At: now, Payload: snapshot},
	}
}

// runFailoverLocked mirrors spec.md §4.2's execution-timeout algorithm.
// Caller must hold e.mu.
func (e *Engine) runFailoverLocked(intentID string) []events.Event {
	intent := e.intents[intentID]
	now := e.clock.Now()

	failedProvider := intent.AssignedProvider
	for _, b := range e.bids[intentID] {
		if b.ProviderAddress == failedProvider && b.Status == domain.BidAccepted {
			b.Status = domain.BidFailed
			break
		}
	}

	if len(intent.FailoverQueue) == 0 {
		intent.Status = domain.IntentFailed
		intent.FailureReason = "all providers failed"
		intent.AssignedProvider = ""
		e.markTerminalLocked(intentID, now)
		e.stats.IntentsFailed++
		if e.metrics != nil {
			e.metrics.observeFailed()
		}
		return []events.Event{{Kind: events.IntentFailed, Subject: intentID, Reason: intent.FailureReason, At: now, Payload: *intent}}
	}

	nextProvider := intent.FailoverQueue[0]
	intent.FailoverQueue = intent.FailoverQueue[1:]
	intent.AssignedProvider = nextProvider
	intent.Status = domain.IntentAssigned

	for _, b := range e.bids[intentID] {
		if b.ProviderAddress == nextProvider && b.Status == domain.BidFailover {
			b.Status = domain.BidAccepted
			break
		}
	}

	e.sched.Schedule(timerKey{intentID: intentID, kind: timerExecution}, now.Add(time.Duration(e.cfg.FailoverTimeoutMS)*time.Millisecond))
	e.stats.FailoversPerformed++
	if e.metrics != nil {
		e.metrics.observeFailover()
	}

	snapshot := *intent
	return []events.Event{
		{Kind: events.FailoverTriggered, Subject: intentID, Reason: fmt.Sprintf("%s -> %s", failedProvider, nextProvider), At: now, Payload: snapshot},
		{Kind: events.IntentUpdated, Subject: intentID, At: now, Payload: snapshot},
	}
}

// markTerminalLocked records when an intent reached a terminal state, for
// the memory-reclamation pass. Caller must hold e.mu.
func (e *Engine) markTerminalLocked(intentID string, at time.Time) {
	e.terminalAt[intentID] = at
	e.terminalOrder = append(e.terminalOrder, intentID)
}

// onTimerFire is the scheduler's callback; it acquires e.mu itself since it
// runs on the scheduler's own goroutine (spec.md §5: "timers fire on
// worker threads and re-enter the engine via the same lock").
func (e *Engine) onTimerFire(key timerKey) {
	e.mu.Lock()
	intent, ok := e.intents[key.intentID]
	if !ok {
		e.mu.Unlock()
		return
	}
	var toEmit []events.Event
	switch key.kind {
	case timerBidding:
		if intent.Status == domain.IntentOpen {
			toEmit = e.closeBiddingLocked(key.intentID)
		}
	case timerExecution:
		if intent.Status == domain.IntentAssigned || intent.Status == domain.IntentExecuting {
			toEmit = e.runFailoverLocked(key.intentID)
		}
	}
	e.mu.Unlock()

	e.publishAll(toEmit)
}

// runCleanupLoop evicts terminal intents past their retention period or
// beyond the hard cap, on a configurable interval (spec.md §4.2). It must
// not keep the process alive past Stop.
func (e *Engine) runCleanupLoop() {
	defer close(e.cleanupDone)

	interval := time.Duration(e.cfg.CleanupIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.cleanupStop:
			return
		case <-ticker.C:
			e.cleanup()
		}
	}
}

func (e *Engine) cleanup() {
	e.mu.Lock()
	retention := time.Duration(e.cfg.RetentionPeriodMS) * time.Millisecond
	now := e.clock.Now()

	kept := e.terminalOrder[:0:0]
	evicted := 0
	for _, id := range e.terminalOrder {
		if _, ok := e.intents[id]; !ok {
			continue
		}
		if now.Sub(e.terminalAt[id]) >= retention {
			e.evictLocked(id)
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	e.terminalOrder = kept

	maxIntents := e.cfg.MaxIntents
	if maxIntents <= 0 {
		maxIntents = 10_000
	}
	for len(e.intents) > maxIntents && len(e.terminalOrder) > 0 {
		id := e.terminalOrder[0]
		e.terminalOrder = e.terminalOrder[1:]
		e.evictLocked(id)
		evicted++
	}

	e.stats.CleanupRuns++
	e.stats.IntentsEvicted += int64(evicted)
	activeIntents := len(e.intents)
	activeTimers := e.sched.ActiveCount()
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.observeCleanupRun(evicted)
		e.metrics.setGauges(activeIntents, activeTimers)
	}
}

// evictLocked removes an intent and its bids (spec.md I1: "deleting an
// intent deletes its bids"). Caller must hold e.mu.
func (e *Engine) evictLocked(intentID string) {
	delete(e.intents, intentID)
	delete(e.bids, intentID)
	delete(e.terminalAt, intentID)
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) publishAll(evs []events.Event) {
	for _, ev := range evs {
		e.publish(ev)
	}
}
