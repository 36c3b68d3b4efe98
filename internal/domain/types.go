// Package domain holds the shared data model for synapse-core: Intent,
// Bid, Dispute, and Safety Transaction, plus the small value types the
// Intent Engine, Dispute Resolver and Safety Protocol all need a single
// definition of. Kept dependency-free (no component imports another
// component's package to read these).
package domain

import (
	"time"

	"github.com/ocx/synapse-core/internal/money"
)

// IntentStatus is the lifecycle state of an Intent (spec.md §3).
type IntentStatus string

const (
	IntentOpen           IntentStatus = "open"
	IntentBiddingClosed  IntentStatus = "bidding_closed"
	IntentAssigned       IntentStatus = "assigned"
	IntentExecuting      IntentStatus = "executing"
	IntentCompleted      IntentStatus = "completed"
	IntentFailed         IntentStatus = "failed"
	IntentCancelled      IntentStatus = "cancelled"
)

// BidStatus is the lifecycle state of a Bid (spec.md §3).
type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidFailover BidStatus = "failover"
	BidExecuted BidStatus = "executed"
	BidFailed   BidStatus = "failed"
)

// Requirements gates who may bid and under what terms (spec.md §3).
type Requirements struct {
	MinReputation     float64
	TEERequired       bool
	PreferredProviders []string
	ExcludedProviders  []string
	MaxLatencyMS       *int64 // nil = use the scorer's configured default
}

// Intent is a client's request for work, advertised for bidding.
type Intent struct {
	ID               string
	Originator       string
	Type             string
	Category         string
	Params           map[string]any
	MaxBudget        money.Amount
	Currency         string
	Requirements     Requirements
	CreatedAt        time.Time
	BiddingDeadline  time.Time
	ExecutionDeadline time.Time

	Status           IntentStatus
	AssignedProvider string // empty = unassigned
	FailoverQueue    []string

	Result *IntentResult

	FailureReason string
}

// IntentResult is populated when an Intent reaches IntentCompleted.
type IntentResult struct {
	ProviderID      string
	Payload         any
	ExecutionTimeMS int64
	SettledAmount   money.Amount
	SettlementTxID  string
	CompletedAt     time.Time
}

// ProviderProfile is the snapshot of a bidding provider the scorer and the
// safety protocol read (spec.md §9 O3: reputation is normalized to [0,1]
// at ingress, never stored in mixed domains).
type ProviderProfile struct {
	Address         string
	ProviderID      string
	ReputationScore float64 // always in [0,1] after ingress conversion
	TEEAttested     bool
	Capabilities    []string
}

// Bid is a provider's offer to fulfil an Intent (spec.md §3).
type Bid struct {
	ID              string
	IntentID        string
	ProviderAddress string
	ProviderID      string

	BidAmount       money.Amount
	EstimatedTimeMS int64
	Confidence      float64
	ReputationScore float64 // snapshotted at submission time, [0,1]
	TEEAttested     bool
	Capabilities    []string

	CalculatedScore float64
	Rank            int

	SubmittedAt time.Time
	ExpiresAt   time.Time
	Status      BidStatus
}

// DisputeReason enumerates why a client opened a dispute (spec.md §3).
type DisputeReason string

const (
	ReasonIncorrectData    DisputeReason = "incorrect_data"
	ReasonNoResponse       DisputeReason = "no_response"
	ReasonLateResponse     DisputeReason = "late_response"
	ReasonQualityIssue     DisputeReason = "quality_issue"
	ReasonMaliciousBehavior DisputeReason = "malicious_behavior"
	ReasonOther            DisputeReason = "other"
)

// DisputeStatus is the lifecycle state of a Dispute (spec.md §3).
type DisputeStatus string

const (
	DisputeOpened             DisputeStatus = "opened"
	DisputeEvidenceCollection DisputeStatus = "evidence_collection"
	DisputeUnderReview        DisputeStatus = "under_review"
	DisputeResolvedClientWins DisputeStatus = "resolved_client_wins"
	DisputeResolvedProviderWins DisputeStatus = "resolved_provider_wins"
	DisputeResolvedSplit      DisputeStatus = "resolved_split"
	DisputeExpired            DisputeStatus = "expired"
)

// EvidenceSubmitter identifies who attached an Evidence entry.
type EvidenceSubmitter string

const (
	SubmitterClient   EvidenceSubmitter = "client"
	SubmitterProvider EvidenceSubmitter = "provider"
	SubmitterOracle   EvidenceSubmitter = "oracle"
)

// Evidence is one append-only entry in a Dispute's evidence log.
type Evidence struct {
	ID        string
	Submitter EvidenceSubmitter
	Type      string
	Payload   any
	Timestamp time.Time
}

// Verdict is the Dispute Resolver's automated ruling.
type Verdict string

const (
	VerdictClientWins   Verdict = "client_wins"
	VerdictProviderWins Verdict = "provider_wins"
	VerdictSplit        Verdict = "split"
)

// Resolution is the Dispute's final ruling (spec.md §3).
type Resolution struct {
	Verdict           Verdict
	ClientRefund      float64 // fraction of escrow, [0,1]
	ProviderPayment   float64 // fraction of escrow, [0,1]
	SlashFraction     float64
	ReputationPenalty float64
	Explanation       string
}

// SlashingRecord is what EscrowAdapter.Slash returns, persisted on the
// Dispute once a client-wins verdict is acted on (spec.md §3, §6).
type SlashingRecord struct {
	TxID          string
	BlockNumber   *int64
	ExplorerURL   string
	SlashedAmount money.Amount
	Recipient     string
	ExecutedAt    time.Time
}

// Dispute is the allegation-to-verdict record for one Intent (spec.md §3).
type Dispute struct {
	ID       string
	IntentID string
	EscrowID string
	Client   string
	Provider string

	Reason      DisputeReason
	Description string

	Status DisputeStatus

	Evidence []Evidence

	ProvidedValue  any
	ReferenceValue any
	DeviationPct   *float64

	Resolution     *Resolution
	SlashingRecord *SlashingRecord

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// EscrowRecord is the shape EscrowAdapter.Get returns (spec.md §6).
type EscrowRecord struct {
	ID     string
	Amount money.Amount
}

// SafetyTransaction is one candidate outgoing payment presented to the
// Agent Safety Protocol (spec.md §3).
type SafetyTransaction struct {
	ID        string
	Timestamp time.Time
	Sender    string
	Recipient string
	Amount    money.Amount
	Resource  string
	SessionID string
}
