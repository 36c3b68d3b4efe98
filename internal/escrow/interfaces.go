// Package escrow defines the Escrow Adapter (C5): the narrow, external
// interface the core uses to read an escrow's balance and to slash a
// fraction of it toward a recipient. The core never owns escrow state
// (spec.md §3, "The Escrow Adapter is an external collaborator owning
// escrow records"). Grounded on the teacher's internal/escrow/interfaces.go
// capability-interface shape (JuryClient/EntropyMonitor), replaced here
// with the spec's Get/Slash contract.
package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/money"
)

// Adapter is the EscrowAdapter external collaborator interface (spec.md §6).
// Idempotent under (escrow_id, reason): calling Slash twice with the same
// reason for the same escrow must not double-slash.
type Adapter interface {
	// Get returns the escrow record, or false if the id is unknown.
	Get(ctx context.Context, escrowID string) (domain.EscrowRecord, bool, error)

	// Slash moves amount out of the escrow toward recipient and returns the
	// settlement tuple the caller records on the Dispute.
	Slash(ctx context.Context, escrowID string, amount money.Amount, recipient, reason string) (domain.SlashingRecord, error)
}

// slashKey is the idempotency key an Adapter implementation should key its
// dedupe table on.
type slashKey struct {
	EscrowID string
	Reason   string
}

// MockAdapter is an in-memory Adapter suitable for tests and for
// cmd/server's default wiring, grounded on the teacher's
// constructor-injected Mock* capabilities in internal/escrow's former
// mocks.go.
type MockAdapter struct {
	mu      sync.Mutex
	records map[string]domain.EscrowRecord
	slashed map[slashKey]domain.SlashingRecord
	txSeq   int
	nowFn   func() time.Time
}

// NewMockAdapter creates a MockAdapter seeded with the given escrow records.
func NewMockAdapter(seed map[string]domain.EscrowRecord) *MockAdapter {
	records := make(map[string]domain.EscrowRecord, len(seed))
	for k, v := range seed {
		records[k] = v
	}
	return &MockAdapter{
		records: records,
		slashed: make(map[slashKey]domain.SlashingRecord),
		nowFn:   time.Now,
	}
}

// Seed registers or overwrites an escrow record, for test setup.
func (m *MockAdapter) Seed(rec domain.EscrowRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
}

// Get implements Adapter.
func (m *MockAdapter) Get(_ context.Context, escrowID string) (domain.EscrowRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[escrowID]
	return rec, ok, nil
}

// Slash implements Adapter. Idempotent under (escrowID, reason): a repeat
// call with the same key returns the previously recorded settlement.
func (m *MockAdapter) Slash(_ context.Context, escrowID string, amount money.Amount, recipient, reason string) (domain.SlashingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := slashKey{EscrowID: escrowID, Reason: reason}
	if existing, ok := m.slashed[key]; ok {
		return existing, nil
	}

	m.txSeq++
	rec := domain.SlashingRecord{
		TxID:          mockTxID(m.txSeq),
		SlashedAmount: amount,
		Recipient:     recipient,
		ExecutedAt:    m.nowFn(),
	}
	if r, ok := m.records[escrowID]; ok {
		r.Amount = r.Amount.Sub(amount)
		m.records[escrowID] = r
	}
	m.slashed[key] = rec
	return rec, nil
}

func mockTxID(seq int) string {
	const alphabet = "0123456789abcdef"
	b := make([]byte, 8)
	n := seq
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = alphabet[n%16]
		n /= 16
	}
	return "tx_mock_" + string(b)
}
