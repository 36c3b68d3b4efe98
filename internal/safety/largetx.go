package safety

import (
	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/money"
)

// LargeTransactionGuard flags payments at or above a threshold for explicit
// confirmation and an execution delay (spec.md §4.5).
type LargeTransactionGuard struct {
	cfg config.LargeTransactionConfig
}

// NewLargeTransactionGuard constructs a LargeTransactionGuard.
func NewLargeTransactionGuard(cfg config.LargeTransactionConfig) *LargeTransactionGuard {
	return &LargeTransactionGuard{cfg: cfg}
}

// LargeTxOutcome is the large-transaction check's contribution to the
// overall SafetyCheckResult.
type LargeTxOutcome struct {
	Large                bool
	RequiresConfirmation bool
	DelaySeconds         int
}

// Check evaluates amount against the configured threshold.
func (g *LargeTransactionGuard) Check(amount money.Amount) LargeTxOutcome {
	threshold := g.cfg.ThresholdParsed()
	if threshold == 0 || amount.Cmp(threshold) < 0 {
		return LargeTxOutcome{}
	}
	return LargeTxOutcome{
		Large:                true,
		RequiresConfirmation: g.cfg.RequireConfirmation,
		DelaySeconds:         g.cfg.DelaySeconds,
	}
}
