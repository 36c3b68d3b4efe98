package escrow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/ocx/synapse-core/internal/domain"
	"github.com/ocx/synapse-core/internal/money"
)

// PGAdapter is a reference Adapter backed by Postgres, demonstrating how a
// real deployment wires an external escrow ledger in (spec.md §6: "the
// Escrow Adapter is an external collaborator owning escrow records"). It is
// never the default — cmd/server always wires MockAdapter and has no
// database option — and the core never queries it for anything beyond Get/Slash.
type PGAdapter struct {
	db *sql.DB
}

// NewPGAdapter opens a PGAdapter against dsn. Callers own the *sql.DB
// lifetime via Close.
func NewPGAdapter(dsn string) (*PGAdapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &PGAdapter{db: db}, nil
}

// Close releases the underlying connection pool.
func (a *PGAdapter) Close() error {
	return a.db.Close()
}

// Get implements Adapter.
func (a *PGAdapter) Get(ctx context.Context, escrowID string) (domain.EscrowRecord, bool, error) {
	var rec domain.EscrowRecord
	var micros int64
	err := a.db.QueryRowContext(ctx,
		`SELECT id, amount_micros FROM escrow_records WHERE id = $1`, escrowID,
	).Scan(&rec.ID, &micros)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EscrowRecord{}, false, nil
	}
	if err != nil {
		return domain.EscrowRecord{}, false, err
	}
	rec.Amount = money.FromMicros(micros)
	return rec, true, nil
}

// Slash implements Adapter. Idempotency is enforced at the database level
// via a unique constraint on (escrow_id, reason): a conflicting insert means
// a prior attempt already recorded the settlement, so the existing row is
// read back instead of slashing twice.
func (a *PGAdapter) Slash(ctx context.Context, escrowID string, amount money.Amount, recipient, reason string) (domain.SlashingRecord, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SlashingRecord{}, err
	}
	defer tx.Rollback()

	var txID string
	var executedAt time.Time
	var inserted bool
	err = tx.QueryRowContext(ctx,
		`INSERT INTO escrow_slashes (escrow_id, reason, amount_micros, recipient, executed_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (escrow_id, reason) DO UPDATE SET escrow_id = excluded.escrow_id
		 RETURNING tx_id, executed_at, (xmax = 0)`,
		escrowID, reason, amount.Micros(), recipient,
	).Scan(&txID, &executedAt, &inserted)
	if err != nil {
		return domain.SlashingRecord{}, err
	}

	if inserted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE escrow_records SET amount_micros = amount_micros - $1 WHERE id = $2`,
			amount.Micros(), escrowID,
		); err != nil {
			return domain.SlashingRecord{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.SlashingRecord{}, err
	}

	return domain.SlashingRecord{
		TxID:          txID,
		SlashedAmount: amount,
		Recipient:     recipient,
		ExecutedAt:    executedAt,
	}, nil
}
