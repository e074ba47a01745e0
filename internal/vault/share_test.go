package vault

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/keyvault/internal/memory"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

func TestTimeGate(t *testing.T) {
	unlock := time.Unix(1700000000, 0)
	g := NewTimeGate(unlock)

	assert.False(t, g.IsUnlocked(unlock.Add(-time.Second)))
	assert.False(t, g.IsUnlocked(unlock.Add(-time.Nanosecond)))
	assert.True(t, g.IsUnlocked(unlock), "boundary is inclusive")
	assert.True(t, g.IsUnlocked(unlock.Add(time.Hour)))
	assert.True(t, g.UnlockAt().Equal(unlock))
}

func TestShare(t *testing.T) {
	tests := []struct {
		name                  string
		balance, units, total uint64
		want                  uint64
	}{
		{"three of eleven of 73", 73, 3, 11, 19},
		{"one of eleven of 73", 73, 1, 11, 6},
		{"one of five of 100", 100, 1, 5, 20},
		{"two of five of 100", 100, 2, 5, 40},
		{"zero units", 100, 0, 5, 0},
		{"zero balance", 0, 3, 5, 0},
		{"all units take everything", 97, 7, 7, 97},
		{"floor drops dust", 10, 1, 3, 3},
		{"max balance single unit", math.MaxUint64, 1, 2, math.MaxUint64 / 2},
		{"max balance full supply", math.MaxUint64, 1000, 1000, math.MaxUint64},
		{"max balance needs 128 bits", math.MaxUint64, 3, 4, 13835058055282163711},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Share(tt.balance, tt.units, tt.total)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("zero total is a configuration error", func(t *testing.T) {
		_, err := Share(100, 0, 0)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("units above total is a configuration error", func(t *testing.T) {
		_, err := Share(100, 6, 5)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})
}

func TestCalculatorCompute(t *testing.T) {
	ctx := context.Background()
	tok := memory.NewToken("vault")
	require.NoError(t, tok.Deposit(73))
	reg := memory.NewKeyRegistry("nft")
	_, err := reg.Mint("alice", 11)
	require.NoError(t, err)
	calc := NewCalculator(tok, reg)

	claimedSet := map[types.UnitID]bool{1: true}
	isClaimed := func(u types.UnitID) (bool, error) { return claimedSet[u], nil }

	t.Run("filters claimed units", func(t *testing.T) {
		ent, err := calc.Compute(ctx, []types.UnitID{0, 1, 2, 3}, isClaimed)
		require.NoError(t, err)
		assert.Equal(t, []types.UnitID{0, 2, 3}, ent.Units)
		assert.Equal(t, uint64(19), ent.Amount)
		assert.Equal(t, uint64(73), ent.Balance)
		assert.Equal(t, uint64(11), ent.TotalSupply)
	})

	t.Run("nothing unclaimed yields empty entitlement", func(t *testing.T) {
		ent, err := calc.Compute(ctx, []types.UnitID{1}, isClaimed)
		require.NoError(t, err)
		assert.True(t, ent.Empty())
		assert.Zero(t, ent.Balance)
	})

	t.Run("unit outside supply is a configuration error", func(t *testing.T) {
		_, err := calc.Compute(ctx, []types.UnitID{11}, isClaimed)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("ledger errors propagate", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := calc.Compute(ctx, []types.UnitID{0}, func(types.UnitID) (bool, error) { return false, boom })
		assert.ErrorIs(t, err, boom)
	})
}
