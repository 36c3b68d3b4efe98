package safety

import (
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/money"
)

// RateLimiter enforces a 60s sliding window of transaction count and
// cumulative value per sender, grounded on the teacher's
// middleware.RateLimiter window bookkeeping but generalized from a fixed
// calls-per-minute counter to spec.md §4.5's count-or-value trip and
// cooldown period.
type RateLimiter struct {
	cfg config.RateLimitConfig

	mu        sync.Mutex
	windows   map[string]*txWindow
	cooldowns map[string]time.Time
}

type txWindow struct {
	entries []txEntry
}

type txEntry struct {
	at     time.Time
	amount money.Amount
}

// NewRateLimiter constructs a RateLimiter from configuration.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:       cfg,
		windows:   make(map[string]*txWindow),
		cooldowns: make(map[string]time.Time),
	}
}

// RateLimitOutcome is the rate-limit check's contribution to the overall
// SafetyCheckResult.
type RateLimitOutcome struct {
	Blocked        bool
	CooldownActive bool
	TripKind       string // "count" | "value", empty when not tripped
	Count          int
	Value          money.Amount
}

// Check admits or blocks a proposed payment from sender, recording it into
// the sliding window only when it is admitted; a payment that trips the
// limit or meets an active cooldown is not recorded.
func (rl *RateLimiter) Check(sender string, amount money.Amount, now time.Time) RateLimitOutcome {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if until, ok := rl.cooldowns[sender]; ok {
		if now.Before(until) {
			return RateLimitOutcome{Blocked: true, CooldownActive: true}
		}
		delete(rl.cooldowns, sender)
	}

	w, ok := rl.windows[sender]
	if !ok {
		w = &txWindow{}
		rl.windows[sender] = w
	}
	w.entries = pruneEntriesBefore(w.entries, now.Add(-time.Minute))

	count := len(w.entries) + 1
	var value money.Amount
	for _, e := range w.entries {
		value = value.Add(e.amount)
	}
	value = value.Add(amount)

	maxValue := rl.cfg.MaxValuePerMinuteParsed()
	switch {
	case rl.cfg.MaxTxPerMinute > 0 && count > rl.cfg.MaxTxPerMinute:
		rl.cooldowns[sender] = now.Add(time.Duration(rl.cfg.CooldownPeriodSec) * time.Second)
		return RateLimitOutcome{Blocked: true, TripKind: "count", Count: count, Value: value}
	case maxValue > 0 && value.Cmp(maxValue) > 0:
		rl.cooldowns[sender] = now.Add(time.Duration(rl.cfg.CooldownPeriodSec) * time.Second)
		return RateLimitOutcome{Blocked: true, TripKind: "value", Count: count, Value: value}
	}

	w.entries = append(w.entries, txEntry{at: now, amount: amount})
	return RateLimitOutcome{Count: count, Value: value}
}

// CooldownUntil returns the cooldown deadline recorded for sender, if any.
// An expired deadline stays recorded, and is returned, until sender's next
// Check removes it.
func (rl *RateLimiter) CooldownUntil(sender string) (time.Time, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	t, ok := rl.cooldowns[sender]
	return t, ok
}

func pruneEntriesBefore(entries []txEntry, cutoff time.Time) []txEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
