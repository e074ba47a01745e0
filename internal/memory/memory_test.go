package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

func TestToken(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit raises pool balance", func(t *testing.T) {
		tok := NewToken("vault")
		require.NoError(t, tok.Deposit(50))
		require.NoError(t, tok.Deposit(50))
		bal, err := tok.BalanceOf(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), bal)
		assert.Equal(t, uint64(100), tok.Supply())
		assert.Equal(t, "vault", tok.Address())
	})

	t.Run("send into pool counts as deposit", func(t *testing.T) {
		tok := NewToken("vault")
		require.NoError(t, tok.Mint("alice", 100))
		require.NoError(t, tok.Send("alice", "vault", 40))
		bal, _ := tok.BalanceOf(ctx)
		assert.Equal(t, uint64(40), bal)
		assert.Equal(t, uint64(60), tok.HolderBalance("alice"))
	})

	t.Run("transfer pays out of pool", func(t *testing.T) {
		tok := NewToken("vault")
		require.NoError(t, tok.Deposit(10))
		require.NoError(t, tok.Transfer(ctx, "bob", 7))
		assert.Equal(t, uint64(7), tok.HolderBalance("bob"))
		bal, _ := tok.BalanceOf(ctx)
		assert.Equal(t, uint64(3), bal)
	})

	t.Run("transfer beyond pool fails", func(t *testing.T) {
		tok := NewToken("vault")
		require.NoError(t, tok.Deposit(10))
		err := tok.Transfer(ctx, "bob", 11)
		assert.ErrorIs(t, err, types.ErrInsufficientBalance)
		assert.Equal(t, uint64(0), tok.HolderBalance("bob"))
	})

	t.Run("empty holder rejected", func(t *testing.T) {
		tok := NewToken("vault")
		assert.ErrorIs(t, tok.Mint("", 1), types.ErrInvalidHolder)
		assert.ErrorIs(t, tok.Send("vault", "", 0), types.ErrInvalidHolder)
	})

	t.Run("mint overflow rejected", func(t *testing.T) {
		tok := NewToken("vault")
		require.NoError(t, tok.Mint("alice", math.MaxUint64))
		assert.ErrorIs(t, tok.Mint("bob", 1), types.ErrInvalidAmount)
	})
}

func TestKeyRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("mint assigns sequential ids", func(t *testing.T) {
		reg := NewKeyRegistry("nft")
		a, err := reg.Mint("alice", 1)
		require.NoError(t, err)
		b, err := reg.Mint("bob", 2)
		require.NoError(t, err)
		assert.Equal(t, []types.UnitID{0}, a)
		assert.Equal(t, []types.UnitID{1, 2}, b)

		total, err := reg.TotalSupply(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), total)

		units, err := reg.UnitsOwnedBy(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []types.UnitID{1, 2}, units)
	})

	t.Run("transfer changes owner", func(t *testing.T) {
		reg := NewKeyRegistry("nft")
		_, _ = reg.Mint("alice", 2)
		require.NoError(t, reg.TransferUnit("alice", "bob", 1))

		owner, err := reg.OwnerOf(1)
		require.NoError(t, err)
		assert.Equal(t, types.Holder("bob"), owner)

		units, _ := reg.UnitsOwnedBy(ctx, "alice")
		assert.Equal(t, []types.UnitID{0}, units)
	})

	t.Run("transfer by non-owner fails", func(t *testing.T) {
		reg := NewKeyRegistry("nft")
		_, _ = reg.Mint("alice", 1)
		assert.ErrorIs(t, reg.TransferUnit("bob", "carol", 0), types.ErrNotOwner)
		assert.ErrorIs(t, reg.TransferUnit("alice", "carol", 5), types.ErrUnitNotFound)
	})

	t.Run("mint rejects bad input", func(t *testing.T) {
		reg := NewKeyRegistry("nft")
		_, err := reg.Mint("", 1)
		assert.ErrorIs(t, err, types.ErrInvalidHolder)
		_, err = reg.Mint("alice", 0)
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})
}

func TestLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("commit makes marks permanent", func(t *testing.T) {
		l := NewLedger()
		tx, err := l.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.MarkClaimed([]types.UnitID{2, 4}))
		require.NoError(t, tx.Commit())
		require.NoError(t, tx.Rollback())

		claimed, err := l.IsClaimed(ctx, 2)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, []types.UnitID{2, 4}, l.Claimed())
	})

	t.Run("marks are private until commit", func(t *testing.T) {
		l := NewLedger()
		tx, _ := l.Begin(ctx)
		require.NoError(t, tx.MarkClaimed([]types.UnitID{1}))
		claimed, _ := tx.IsClaimed(1)
		assert.True(t, claimed)

		claimed, _ = l.IsClaimed(ctx, 1)
		assert.False(t, claimed)
		assert.Empty(t, l.Claimed())
		other, _ := l.Begin(ctx)
		claimed, _ = other.IsClaimed(1)
		assert.False(t, claimed)

		require.NoError(t, tx.Commit())
		claimed, _ = l.IsClaimed(ctx, 1)
		assert.True(t, claimed)
		claimed, _ = other.IsClaimed(1)
		assert.True(t, claimed)
		require.NoError(t, other.Rollback())
	})

	t.Run("reserved unit cannot be marked by another transaction", func(t *testing.T) {
		l := NewLedger()
		first, _ := l.Begin(ctx)
		require.NoError(t, first.MarkClaimed([]types.UnitID{3}))

		second, _ := l.Begin(ctx)
		assert.ErrorIs(t, second.MarkClaimed([]types.UnitID{3}), types.ErrAlreadyClaimed)
		require.NoError(t, second.Rollback())

		// Once the first rolls back the unit is free again.
		require.NoError(t, first.Rollback())
		third, _ := l.Begin(ctx)
		require.NoError(t, third.MarkClaimed([]types.UnitID{3}))
		require.NoError(t, third.Commit())
		assert.Equal(t, []types.UnitID{3}, l.Claimed())
	})

	t.Run("rollback undoes marks", func(t *testing.T) {
		l := NewLedger()
		tx, _ := l.Begin(ctx)
		require.NoError(t, tx.MarkClaimed([]types.UnitID{1, 3}))
		require.NoError(t, tx.Rollback())
		claimed, _ := l.IsClaimed(ctx, 1)
		assert.False(t, claimed)
		assert.Empty(t, l.Claimed())
	})

	t.Run("double mark is rejected without partial apply", func(t *testing.T) {
		l := NewLedger()
		tx, _ := l.Begin(ctx)
		require.NoError(t, tx.MarkClaimed([]types.UnitID{5}))
		require.NoError(t, tx.Commit())

		tx, _ = l.Begin(ctx)
		err := tx.MarkClaimed([]types.UnitID{6, 5})
		assert.ErrorIs(t, err, types.ErrAlreadyClaimed)
		claimed, _ := l.IsClaimed(ctx, 6)
		assert.False(t, claimed)

		err = tx.MarkClaimed([]types.UnitID{7, 7})
		assert.ErrorIs(t, err, types.ErrAlreadyClaimed)
		require.NoError(t, tx.Rollback())
	})

	t.Run("rollback keeps earlier commits", func(t *testing.T) {
		l := NewLedger()
		tx, _ := l.Begin(ctx)
		require.NoError(t, tx.MarkClaimed([]types.UnitID{0}))
		require.NoError(t, tx.Commit())

		tx, _ = l.Begin(ctx)
		require.NoError(t, tx.MarkClaimed([]types.UnitID{1}))
		require.NoError(t, tx.Rollback())
		assert.Equal(t, []types.UnitID{0}, l.Claimed())
	})

	t.Run("receipt stored on commit only", func(t *testing.T) {
		l := NewLedger()
		tx, _ := l.Begin(ctx)
		rec := tx.(types.ReceiptRecorder)
		require.NoError(t, rec.RecordReceipt(types.Receipt{ClaimID: "a"}))
		require.NoError(t, tx.Rollback())
		assert.Empty(t, l.Receipts())

		tx, _ = l.Begin(ctx)
		rec = tx.(types.ReceiptRecorder)
		require.NoError(t, rec.RecordReceipt(types.Receipt{ClaimID: "b"}))
		require.NoError(t, tx.Commit())
		require.Len(t, l.Receipts(), 1)
		assert.Equal(t, "b", l.Receipts()[0].ClaimID)
	})
}
