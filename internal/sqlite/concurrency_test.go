package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

func TestConcurrentClaimsAcrossEngines(t *testing.T) {
	ctx := context.Background()
	b := attached(t)
	const holders = 8
	for i := range holders {
		_, err := b.Keys().Mint(ctx, types.Holder(fmt.Sprintf("h%d", i)), 2)
		require.NoError(t, err)
	}
	require.NoError(t, b.Pool().Deposit(ctx, 1_000_000))

	// Two engines share one database; the connection serializes their
	// transactions.
	engines := []interface {
		ClaimAll(context.Context, types.Holder) (types.Receipt, error)
	}{newEngine(t, b, b.Store()), newEngine(t, b, b.Store())}

	var paid atomic.Uint64
	var won atomic.Int32
	var g errgroup.Group
	for i := range holders {
		h := types.Holder(fmt.Sprintf("h%d", i))
		for _, e := range engines {
			g.Go(func() error {
				r, err := e.ClaimAll(ctx, h)
				if errors.Is(err, types.ErrNothingClaimable) {
					return nil
				}
				if err != nil {
					return err
				}
				paid.Add(r.Amount)
				won.Add(1)
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(holders), won.Load(), "each holder is paid exactly once")
	bal, err := b.Pool().BalanceOf(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), bal+paid.Load(), "value is conserved")

	claimed, err := b.Claims().Claimed(ctx)
	require.NoError(t, err)
	assert.Len(t, claimed, 2*holders)

	receipts, err := b.Claims().Receipts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, receipts, holders)
}
