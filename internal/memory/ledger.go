package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var (
	_ types.ClaimLedger     = (*Ledger)(nil)
	_ types.LedgerTx        = (*ledgerTx)(nil)
	_ types.ReceiptRecorder = (*ledgerTx)(nil)
)

// Ledger keeps claimed flags in a map. Marks made inside a transaction
// reserve their units: readers outside the transaction see them only after
// Commit, and another transaction cannot mark a reserved unit.
type Ledger struct {
	mu       sync.Mutex
	claimed  map[types.UnitID]bool
	reserved map[types.UnitID]*ledgerTx
	receipts []types.Receipt
}

// NewLedger returns a ledger with every unit unclaimed.
func NewLedger() *Ledger {
	return &Ledger{
		claimed:  make(map[types.UnitID]bool),
		reserved: make(map[types.UnitID]*ledgerTx),
	}
}

// IsClaimed reports committed claims only.
func (l *Ledger) IsClaimed(ctx context.Context, unit types.UnitID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimed[unit], nil
}

func (l *Ledger) Begin(ctx context.Context) (types.LedgerTx, error) {
	return &ledgerTx{ledger: l, ctx: ctx}, nil
}

// Claimed returns every claimed unit in ascending order.
func (l *Ledger) Claimed() []types.UnitID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.claimed))
}

// Receipts returns committed receipts in claim order.
func (l *Ledger) Receipts() []types.Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.receipts)
}

type ledgerTx struct {
	ledger  *Ledger
	ctx     context.Context
	marked  []types.UnitID
	receipt *types.Receipt
	done    bool
}

func (tx *ledgerTx) Context() context.Context {
	return tx.ctx
}

func (tx *ledgerTx) IsClaimed(unit types.UnitID) (bool, error) {
	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimed[unit] || l.reserved[unit] == tx, nil
}

func (tx *ledgerTx) MarkClaimed(units []types.UnitID) error {
	if tx.done {
		return fmt.Errorf("ledger transaction already finished")
	}
	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[types.UnitID]bool, len(units))
	for _, u := range units {
		if l.claimed[u] || l.reserved[u] != nil || seen[u] {
			return fmt.Errorf("%w: unit %d", types.ErrAlreadyClaimed, u)
		}
		seen[u] = true
	}
	for _, u := range units {
		l.reserved[u] = tx
	}
	tx.marked = append(tx.marked, units...)
	return nil
}

func (tx *ledgerTx) RecordReceipt(r types.Receipt) error {
	tx.receipt = &r
	return nil
}

func (tx *ledgerTx) Commit() error {
	if tx.done {
		return fmt.Errorf("ledger transaction already finished")
	}
	tx.done = true
	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range tx.marked {
		delete(l.reserved, u)
		l.claimed[u] = true
	}
	if tx.receipt != nil {
		l.receipts = append(l.receipts, *tx.receipt)
	}
	return nil
}

func (tx *ledgerTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range tx.marked {
		delete(l.reserved, u)
	}
	tx.marked = nil
	return nil
}
