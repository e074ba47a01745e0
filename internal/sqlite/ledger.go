package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var (
	_ types.ClaimLedger     = (*Ledger)(nil)
	_ types.LedgerTx        = (*ledgerTx)(nil)
	_ types.ReceiptRecorder = (*ledgerTx)(nil)
)

var errTxFinished = errors.New("ledger transaction already finished")

// Ledger stores claimed flags in the claims table. A row exists only for
// claimed units.
type Ledger struct {
	backend *Backend
}

func (l *Ledger) IsClaimed(ctx context.Context, unit types.UnitID) (bool, error) {
	q, err := l.backend.conn(ctx)
	if err != nil {
		return false, err
	}
	return isClaimed(ctx, q, unit)
}

// Begin opens a SQL transaction. The returned transaction's Context carries
// it, so the pool and the key registry read and write inside it.
func (l *Ledger) Begin(ctx context.Context) (types.LedgerTx, error) {
	tx, err := l.backend.begin(ctx)
	if err != nil {
		return nil, err
	}
	bt := &boundTx{backend: l.backend, tx: tx}
	return &ledgerTx{
		ledger: l,
		tx:     tx,
		ctx:    context.WithValue(ctx, txKey{}, bt),
	}, nil
}

// Claimed returns every claimed unit in ascending order.
func (l *Ledger) Claimed(ctx context.Context) ([]types.UnitID, error) {
	q, err := l.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, "SELECT unit_id FROM claims ORDER BY unit_id")
	if err != nil {
		return nil, fmt.Errorf("listing claimed units: %w", err)
	}
	defer rows.Close()

	var units []types.UnitID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning claimed unit: %w", err)
		}
		units = append(units, types.UnitID(id))
	}
	return units, rows.Err()
}

// Receipts returns committed receipts in claim order. An empty holder
// returns every receipt.
func (l *Ledger) Receipts(ctx context.Context, holder types.Holder) ([]types.Receipt, error) {
	q, err := l.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	return listReceipts(ctx, q, holder)
}

func listReceipts(ctx context.Context, q querier, holder types.Holder) ([]types.Receipt, error) {
	query := `SELECT claim_id, holder, units, amount, balance, total_supply, claimed_at
		FROM receipts`
	var args []any
	if holder != "" {
		query += " WHERE holder = ?"
		args = append(args, string(holder))
	}
	query += " ORDER BY claimed_at, claim_id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	defer rows.Close()

	var out []types.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceipt(rows *sql.Rows) (types.Receipt, error) {
	var (
		r                            types.Receipt
		holder, units, claimedAt     string
		amount, balance, totalSupply int64
	)
	if err := rows.Scan(&r.ClaimID, &holder, &units, &amount, &balance, &totalSupply, &claimedAt); err != nil {
		return types.Receipt{}, fmt.Errorf("scanning receipt: %w", err)
	}
	if err := json.Unmarshal([]byte(units), &r.Units); err != nil {
		return types.Receipt{}, fmt.Errorf("decoding units of receipt %s: %w", r.ClaimID, err)
	}
	at, err := time.Parse(time.RFC3339Nano, claimedAt)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("parsing claimed_at of receipt %s: %w", r.ClaimID, err)
	}
	r.Holder = types.Holder(holder)
	r.Amount = uint64(amount)
	r.Balance = uint64(balance)
	r.TotalSupply = uint64(totalSupply)
	r.ClaimedAt = at.UTC()
	return r, nil
}

func isClaimed(ctx context.Context, q querier, unit types.UnitID) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM claims WHERE unit_id = ?", int64(unit)).Scan(&n); err != nil {
		return false, fmt.Errorf("checking unit %d: %w", unit, err)
	}
	return n > 0, nil
}

type ledgerTx struct {
	ledger  *Ledger
	tx      *sql.Tx
	ctx     context.Context
	receipt *types.Receipt
	done    bool
}

func (t *ledgerTx) Context() context.Context {
	return t.ctx
}

func (t *ledgerTx) IsClaimed(unit types.UnitID) (bool, error) {
	if t.done {
		return false, errTxFinished
	}
	return isClaimed(t.ctx, t.tx, unit)
}

// MarkClaimed inserts a claims row per unit. All units are checked before
// any row is written. Rows carry the wall clock until RecordReceipt stamps
// them with the receipt's instant.
func (t *ledgerTx) MarkClaimed(units []types.UnitID) error {
	if t.done {
		return errTxFinished
	}
	seen := make(map[types.UnitID]bool, len(units))
	for _, u := range units {
		claimed, err := isClaimed(t.ctx, t.tx, u)
		if err != nil {
			return err
		}
		if claimed || seen[u] {
			return fmt.Errorf("%w: unit %d", types.ErrAlreadyClaimed, u)
		}
		seen[u] = true
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, u := range units {
		if _, err := t.tx.ExecContext(t.ctx,
			"INSERT INTO claims (unit_id, claimed_at) VALUES (?, ?)",
			int64(u), now,
		); err != nil {
			return fmt.Errorf("marking unit %d claimed: %w", u, err)
		}
	}
	return nil
}

// RecordReceipt inserts the receipt row inside the claim transaction, stamps
// the receipt's claims rows with its instant, and keeps it for the journal.
func (t *ledgerTx) RecordReceipt(r types.Receipt) error {
	if t.done {
		return errTxFinished
	}
	if err := insertReceipt(t.ctx, t.tx, r); err != nil {
		return err
	}
	at := r.ClaimedAt.UTC().Format(time.RFC3339Nano)
	for _, u := range r.Units {
		if _, err := t.tx.ExecContext(t.ctx,
			"UPDATE claims SET claimed_at = ? WHERE unit_id = ?", at, int64(u),
		); err != nil {
			return fmt.Errorf("stamping claim of unit %d: %w", u, err)
		}
	}
	t.receipt = &r
	return nil
}

func insertReceipt(ctx context.Context, q querier, r types.Receipt) error {
	units, err := json.Marshal(types.NormalizeUnits(r.Units))
	if err != nil {
		return fmt.Errorf("encoding receipt units: %w", err)
	}
	amount, err := toInt64(r.Amount)
	if err != nil {
		return err
	}
	balance, err := toInt64(r.Balance)
	if err != nil {
		return err
	}
	total, err := toInt64(r.TotalSupply)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO receipts (claim_id, holder, units, amount, balance, total_supply, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ClaimID, string(r.Holder), string(units), amount, balance, total,
		r.ClaimedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting receipt %s: %w", r.ClaimID, err)
	}
	return nil
}

// Commit commits the SQL transaction, then appends the receipt to the
// claims journal. The database is authoritative; a journal write failure
// is logged and does not fail the claim.
func (t *ledgerTx) Commit() error {
	if t.done {
		return errTxFinished
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing claim transaction: %w", err)
	}
	if t.receipt == nil {
		return nil
	}
	b := t.ledger.backend
	path := filepath.Join(b.DataDir(), journalFileName)
	if err := appendJSONL(path, t.receipt); err != nil {
		b.log.Warn("claims journal append failed",
			zap.String("path", path),
			zap.String("claim_id", t.receipt.ClaimID),
			zap.Error(err),
		)
	}
	return nil
}

// Rollback aborts the SQL transaction. It is a no-op once the transaction
// has finished.
func (t *ledgerTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back claim transaction: %w", err)
	}
	return nil
}
