// Package escrow — Slash Executor.
//
// Slashing escrow is an external side effect the Dispute Resolver cannot
// roll back or block on: spec.md §4.3/§7 requires that "a Slash failure is
// logged but does not reopen the Dispute." SlashExecutor wraps an Adapter's
// Slash call with a timeout and a bounded retry budget, and files anything
// that still fails into a dead-letter log an operator can replay. Grounded
// on the teacher's internal/escrow/compensation.go CompensationStack
// (executeWithRetry: timeout-per-attempt, fixed retry budget, dead-letter
// on exhaustion), adapted from "undo a speculative side effect" to "commit
// an irreversible one, at least once."
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/money"
)

// SlashExecutorConfig tunes the retry/timeout envelope around Adapter.Slash.
type SlashExecutorConfig struct {
	Timeout    time.Duration // max time per attempt (default 5s)
	MaxRetries int           // additional attempts after the first (default 3)
	RetryDelay time.Duration // delay between attempts (default 500ms)
}

func (c SlashExecutorConfig) withDefaults() SlashExecutorConfig {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

// DeadLetter is a slash that never succeeded after exhausting retries. The
// Dispute is left in its resolved state regardless; an operator reviews
// the dead-letter log and replays manually via the Adapter.
type DeadLetter struct {
	DisputeID string
	EscrowID  string
	Reason    string
	Amount    money.Amount
	LastError string
	Attempts  int
	FailedAt  time.Time
}

// SlashExecutor runs Adapter.Slash with retry-then-dead-letter semantics.
// Safe for concurrent use; the Dispute Resolver calls it from whichever
// goroutine resolved the dispute.
type SlashExecutor struct {
	adapter Adapter
	config  SlashExecutorConfig
	logger  *slog.Logger

	mu         sync.Mutex
	deadLetter []DeadLetter
}

// NewSlashExecutor wraps adapter with the given retry envelope.
func NewSlashExecutor(adapter Adapter, cfg SlashExecutorConfig, logger *slog.Logger) *SlashExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlashExecutor{
		adapter: adapter,
		config:  cfg.withDefaults(),
		logger:  logger.With("component", "escrow.slash_executor"),
	}
}

// Execute attempts to slash amount from escrowID toward recipient for a
// resolved dispute. It never returns an error to the caller — a
// non-recoverable failure is dead-lettered and logged, per spec.md's
// "slashing is best-effort" requirement. The returned bool reports whether
// the slash ultimately succeeded; the Dispute's SlashingRecord is only set
// on success.
func (e *SlashExecutor) Execute(ctx context.Context, disputeID, escrowID string, amount money.Amount, recipient, reason string) (domain.SlashingRecord, bool) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(e.config.RetryDelay)
			e.logger.Warn("retrying escrow slash",
				"dispute_id", disputeID, "escrow_id", escrowID, "attempt", attempt)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		rec, err := e.adapter.Slash(attemptCtx, escrowID, amount, recipient, reason)
		cancel()

		if err == nil {
			e.logger.Info("escrow slash succeeded",
				"dispute_id", disputeID, "escrow_id", escrowID, "tx_id", rec.TxID, "attempt", attempt)
			return rec, true
		}
		lastErr = err
	}

	e.logger.Error("escrow slash dead-lettered",
		"dispute_id", disputeID, "escrow_id", escrowID, "error", lastErr)

	e.mu.Lock()
	e.deadLetter = append(e.deadLetter, DeadLetter{
		DisputeID: disputeID,
		EscrowID:  escrowID,
		Reason:    reason,
		Amount:    amount,
		LastError: errString(lastErr),
		Attempts:  e.config.MaxRetries + 1,
		FailedAt:  time.Now(),
	})
	e.mu.Unlock()

	return domain.SlashingRecord{}, false
}

// DeadLetters returns a snapshot of slashes an operator still needs to
// review and, if appropriate, replay by hand.
func (e *SlashExecutor) DeadLetters() []DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DeadLetter, len(e.deadLetter))
	copy(out, e.deadLetter)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}
