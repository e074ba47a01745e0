package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/keyvault/internal/vault"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var unlockAt = time.Unix(1700000000, 0).UTC()

func TestLedgerMarkAndCommit(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 3)
	require.NoError(t, err)
	l := b.Claims()

	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkClaimed([]types.UnitID{0, 2}))

	claimed, err := tx.IsClaimed(2)
	require.NoError(t, err)
	assert.True(t, claimed, "marks are visible inside the transaction")

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	units, err := l.Claimed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.UnitID{0, 2}, units)

	claimed, err = l.IsClaimed(ctx, 1)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestLedgerRollback(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 2)
	require.NoError(t, err)
	l := b.Claims()

	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkClaimed([]types.UnitID{0, 1}))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	units, err := l.Claimed(ctx)
	require.NoError(t, err)
	assert.Empty(t, units)

	assert.Error(t, tx.Commit(), "commit after rollback fails")
}

func TestLedgerDoubleMark(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 3)
	require.NoError(t, err)
	l := b.Claims()

	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkClaimed([]types.UnitID{1}))
	require.NoError(t, tx.Commit())

	tx, err = l.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.MarkClaimed([]types.UnitID{0, 1})
	assert.ErrorIs(t, err, types.ErrAlreadyClaimed)
	claimed, err := tx.IsClaimed(0)
	require.NoError(t, err)
	assert.False(t, claimed, "a rejected mark applies nothing")

	err = tx.MarkClaimed([]types.UnitID{2, 2})
	assert.ErrorIs(t, err, types.ErrAlreadyClaimed)
}

func TestLedgerReceiptsAndJournal(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 2)
	require.NoError(t, err)
	l := b.Claims()

	r := types.Receipt{
		ClaimID:     "0190a4f2-0000-7000-8000-000000000001",
		Holder:      "alice",
		Units:       []types.UnitID{1, 0},
		Amount:      40,
		Balance:     100,
		TotalSupply: 5,
		ClaimedAt:   unlockAt,
	}
	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkClaimed([]types.UnitID{0, 1}))
	require.NoError(t, tx.(types.ReceiptRecorder).RecordReceipt(r))
	require.NoError(t, tx.Commit())

	got, err := l.Receipts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	want := r
	want.Units = []types.UnitID{0, 1}
	assert.Equal(t, want, got[0])

	got, err = l.Receipts(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, got)

	lines, err := readJSONL(filepath.Join(b.DataDir(), journalFileName))
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestLedgerRolledBackReceiptIsDropped(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 1)
	require.NoError(t, err)

	tx, err := b.Claims().Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkClaimed([]types.UnitID{0}))
	require.NoError(t, tx.(types.ReceiptRecorder).RecordReceipt(types.Receipt{ClaimID: "x", Holder: "alice", ClaimedAt: unlockAt}))
	require.NoError(t, tx.Rollback())

	got, err := b.Claims().Receipts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = os.Stat(filepath.Join(b.DataDir(), journalFileName))
	assert.True(t, errors.Is(err, os.ErrNotExist), "journal is written only on commit")
}

// newEngine builds a claim engine over b with the clock past the unlock.
func newEngine(t *testing.T, b *Backend, store types.ValueStore) *vault.Engine {
	t.Helper()
	e, err := vault.New(context.Background(), vault.Options{
		Store:    store,
		Oracle:   b.Oracle(),
		Ledger:   b.Ledger(),
		UnlockAt: unlockAt,
		Clock:    types.ClockFunc(func() time.Time { return unlockAt.Add(time.Hour) }),
	})
	require.NoError(t, err)
	return e
}

func TestEngineOverSQLite(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 3)
	require.NoError(t, err)
	_, err = b.Keys().Mint(ctx, "bob", 8)
	require.NoError(t, err)
	require.NoError(t, b.Pool().Deposit(ctx, 73))
	e := newEngine(t, b, b.Store())

	r, err := e.ClaimAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(19), r.Amount)
	assert.Equal(t, []types.UnitID{0, 1, 2}, r.Units)

	_, err = e.ClaimAll(ctx, "alice")
	assert.ErrorIs(t, err, types.ErrNothingClaimable)

	require.NoError(t, b.Pool().Deposit(ctx, 19))
	require.NoError(t, b.Keys().TransferUnit(ctx, "bob", "alice", 3))
	r, err = e.Claim(ctx, "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), r.Amount, "floor(73*1/11)")

	_, err = e.Claim(ctx, "alice", 0)
	assert.ErrorIs(t, err, types.ErrAlreadyClaimed)

	bal, err := b.Pool().HolderBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(25), bal)

	receipts, err := b.Claims().Receipts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, receipts, 2)
}

func TestClaimRowsCarryReceiptInstant(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 2)
	require.NoError(t, err)
	require.NoError(t, b.Pool().Deposit(ctx, 10))

	// The engine clock sits far from the wall clock.
	r, err := newEngine(t, b, b.Store()).ClaimAll(ctx, "alice")
	require.NoError(t, err)

	rows, err := b.db.QueryContext(ctx, "SELECT claimed_at FROM claims ORDER BY unit_id")
	require.NoError(t, err)
	defer rows.Close()
	var stamps []string
	for rows.Next() {
		var at string
		require.NoError(t, rows.Scan(&at))
		stamps = append(stamps, at)
	}
	require.NoError(t, rows.Err())
	want := r.ClaimedAt.UTC().Format(time.RFC3339Nano)
	assert.Equal(t, []string{want, want}, stamps)
}

// halfTransfer debits the pool inside the claim transaction and then fails.
type halfTransfer struct {
	*Pool
}

func (h halfTransfer) Transfer(ctx context.Context, to types.Holder, amount uint64) error {
	if err := h.Send(ctx, h.address, "sink", amount); err != nil {
		return err
	}
	return errors.New("downstream refused")
}

func TestEngineTransferFailureRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	_, err := b.Keys().Mint(ctx, "alice", 2)
	require.NoError(t, err)
	require.NoError(t, b.Pool().Deposit(ctx, 100))

	e := newEngine(t, b, halfTransfer{b.Pool()})
	_, err = e.ClaimAll(ctx, "alice")
	require.ErrorIs(t, err, types.ErrTransferFailed)

	bal, err := b.Pool().BalanceOf(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal, "partial debit is rolled back with the claim")

	sink, err := b.Pool().HolderBalance(ctx, "sink")
	require.NoError(t, err)
	assert.Zero(t, sink)

	claimed, err := b.Claims().Claimed(ctx)
	require.NoError(t, err)
	assert.Empty(t, claimed, "units stay claimable")

	e = newEngine(t, b, b.Store())
	r, err := e.ClaimAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.Amount)
}
