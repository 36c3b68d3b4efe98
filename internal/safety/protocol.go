package safety

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/events"
	"github.com/ocx/synapse-core/internal/ids"
	"github.com/ocx/synapse-core/internal/money"
)

const maxTransactionLog = 500

// Protocol is the Agent Safety Protocol (C8): a synchronous gate consulted
// before every outgoing payment, composing five independent checks behind
// a short-circuiting chain (spec.md §4.5). Grounded on the teacher's
// middleware.RateLimiter and circuitbreaker.CircuitBreaker for the
// composition style (small focused collaborators behind one facade), but
// the chain itself and its risk-score blend are this system's own.
type Protocol struct {
	cfg     config.SafetyProtocolConfig
	breaker *CircuitBreaker
	limiter *RateLimiter
	cycles  *CycleDetector
	anomaly *AnomalyDetector
	largeTx *LargeTransactionGuard

	clock  ids.Clock
	bus    *events.Bus
	logger *slog.Logger

	mu  sync.Mutex
	log []domain.SafetyTransaction
}

// New constructs a Protocol from configuration.
func New(cfg config.SafetyProtocolConfig, clock ids.Clock, bus *events.Bus, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ids.SystemClock{}
	}
	return &Protocol{
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		limiter: NewRateLimiter(cfg.RateLimit),
		cycles:  NewCycleDetector(cfg.CircularDetection),
		anomaly: NewAnomalyDetector(cfg.AnomalyDetection),
		largeTx: NewLargeTransactionGuard(cfg.LargeTransaction),
		clock:   clock,
		bus:     bus,
		logger:  logger.With("component", "safety.protocol"),
	}
}

// CheckPayment runs tx through the five checks in order, short-circuiting
// on the first blocking result (spec.md §4.5).
func (p *Protocol) CheckPayment(tx domain.SafetyTransaction) SafetyCheckResult {
	now := p.clock.Now()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}

	var warnings []string
	var recommendations []string

	rl := p.limiter.Check(tx.Sender, tx.Amount, now)
	if rl.Blocked {
		reason := fmt.Sprintf("rate_limit:%s", rl.TripKind)
		if rl.CooldownActive {
			reason = "rate_limit:cooldown"
		}
		p.logger.Warn("payment blocked by rate limit", "sender", tx.Sender, "reason", reason)
		p.publish(events.SafetyRateLimit, tx, reason, rl)
		p.publish(events.SafetyCooldownStarted, tx, "", nil)
		p.publish(events.SafetyBlocked, tx, reason, nil)
		return SafetyCheckResult{Allowed: false, Reason: reason, RiskScore: 1}
	}

	allowed, breakerState, probe := p.breaker.Allow(now)
	if !allowed {
		reason := "circuit_breaker:open"
		p.logger.Warn("payment blocked by open circuit", "sender", tx.Sender)
		p.publish(events.SafetyCircuitBreaker, tx, string(breakerState), nil)
		p.publish(events.SafetyBlocked, tx, reason, nil)
		return SafetyCheckResult{Allowed: false, Reason: reason, RiskScore: 1}
	}
	if probe {
		p.publish(events.SafetyCircuitBreaker, tx, string(BreakerHalfOpen), nil)
	}

	cycle := p.cycles.Check(tx.Sender, tx.Recipient, now)
	if cycle.Blocked {
		reason := "circular_payment"
		p.logger.Warn("payment blocked by cycle detector", "sender", tx.Sender, "trace", cycle.Trace)
		p.publish(events.SafetyCircularPayment, tx, reason, cycle.Trace)
		p.publish(events.SafetyBlocked, tx, reason, nil)
		return SafetyCheckResult{Allowed: false, Reason: reason, RiskScore: 1, Warnings: warnings}
	}
	if cycle.PotentialOnly {
		warnings = append(warnings, "potential_circular_payment")
	}

	anom := p.anomaly.Check(tx.Sender, tx.Recipient, tx.Amount, now)
	if anom.Flagged {
		warnings = append(warnings, "amount_anomaly")
		p.publish(events.SafetyAnomaly, tx, "amount", anom)
	}
	if anom.UnusualHour {
		warnings = append(warnings, "unusual_hour")
	}
	if anom.FirstTimeRecip {
		warnings = append(warnings, "first_time_recipient")
	}
	if anom.RepeatRecipient {
		warnings = append(warnings, "repeat_recipient")
	}

	large := p.largeTx.Check(tx.Amount)
	if large.Large {
		p.publish(events.SafetyLargeTransaction, tx, "", large)
		recommendations = append(recommendations, "confirm_large_transaction")
	}

	p.cycles.Record(tx.Sender, tx.Recipient, now)
	p.recordTx(tx)

	risk := p.riskScore(tx.Amount, warnings, breakerState, rl)

	return SafetyCheckResult{
		Allowed:              true,
		Warnings:             warnings,
		RiskScore:            risk,
		Recommendations:      recommendations,
		RequiresConfirmation: large.RequiresConfirmation,
		DelayMS:              int64(large.DelaySeconds) * 1000,
	}
}

// ReportOutcome feeds the result of an actually-executed payment back into
// the circuit breaker, since trip/recovery depends on downstream success,
// not on the gate's own admission decision.
func (p *Protocol) ReportOutcome(success bool) {
	now := p.clock.Now()
	var from, to BreakerState
	if success {
		from, to = p.breaker.RecordSuccess(now)
	} else {
		from, to = p.breaker.RecordFailure(now)
	}
	if from != to {
		p.publish(events.SafetyCircuitBreaker, domain.SafetyTransaction{Timestamp: now}, string(to), nil)
		if to == BreakerClosed {
			p.publish(events.SafetyCooldownEnded, domain.SafetyTransaction{Timestamp: now}, "", nil)
		}
	}
}

// riskScore blends warning count, amount-to-threshold ratio, circuit
// state, and recent-activity ratio into [0, 1] (spec.md §4.5).
func (p *Protocol) riskScore(amount money.Amount, warnings []string, breakerState BreakerState, rl RateLimitOutcome) float64 {
	score := 0.3 * float64(len(warnings)) / 4

	if threshold := p.cfg.LargeTransaction.ThresholdParsed(); threshold > 0 {
		ratio := amount.Float64() / threshold.Float64()
		if ratio > 1 {
			ratio = 1
		}
		score += 0.25 * ratio
	}

	switch breakerState {
	case BreakerHalfOpen:
		score += 0.2
	case BreakerOpen:
		score += 0.4
	}

	if p.cfg.RateLimit.MaxTxPerMinute > 0 {
		score += 0.25 * float64(rl.Count) / float64(p.cfg.RateLimit.MaxTxPerMinute)
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (p *Protocol) recordTx(tx domain.SafetyTransaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, tx)
	if len(p.log) > maxTransactionLog {
		p.log = p.log[len(p.log)-maxTransactionLog:]
	}
}

// TransactionLog returns a snapshot of the most recent admitted
// transactions, capped at 500 entries (spec.md §5 bounded memory).
func (p *Protocol) TransactionLog() []domain.SafetyTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SafetyTransaction, len(p.log))
	copy(out, p.log)
	return out
}

func (p *Protocol) publish(kind events.Kind, tx domain.SafetyTransaction, reason string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{
		Kind:    kind,
		Subject: tx.Sender,
		Reason:  reason,
		At:      p.clock.Now(),
		Payload: payload,
	})
}
