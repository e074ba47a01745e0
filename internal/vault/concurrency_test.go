package vault

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1_000_000, mint{"alice", 10}, mint{"bob", 10}, mint{"carol", 80})

	var committed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for range 32 {
		for _, h := range []types.Holder{"alice", "bob"} {
			g.Go(func() error {
				_, err := f.engine.ClaimAll(gctx, h)
				switch {
				case err == nil:
					committed.Add(1)
					return nil
				case errors.Is(err, types.ErrNothingClaimable):
					return nil
				default:
					return err
				}
			})
		}
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(2), committed.Load())
	// Alice claims first or second; either way both see a consistent pool.
	alice := f.token.HolderBalance("alice")
	bob := f.token.HolderBalance("bob")
	assert.ElementsMatch(t, []uint64{100_000, 90_000}, []uint64{alice, bob})

	receipts := f.ledger.Receipts()
	require.Len(t, receipts, 2)
	assert.Equal(t, receipts[0].Balance-receipts[0].Amount, receipts[1].Balance)
}

func TestConcurrentSingleUnitClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, mint{"alice", 5})

	var paid atomic.Int32
	var g errgroup.Group
	for range 16 {
		for u := range 5 {
			g.Go(func() error {
				_, err := f.engine.Claim(ctx, "alice", types.UnitID(u))
				switch {
				case err == nil:
					paid.Add(1)
					return nil
				case errors.Is(err, types.ErrAlreadyClaimed):
					return nil
				default:
					return err
				}
			})
		}
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(5), paid.Load())
	assert.Equal(t, []types.UnitID{0, 1, 2, 3, 4}, f.ledger.Claimed())
	// Every unit was priced against what was left after the ones before it.
	assert.Equal(t, uint64(100+80+64+51+41), f.token.HolderBalance("alice"))
}

func TestIndependentEnginesDoNotShareState(t *testing.T) {
	ctx := context.Background()
	a := newFixture(t, 100, mint{"alice", 1}, mint{"bob", 1})
	b := newFixture(t, 100, mint{"alice", 1}, mint{"bob", 1})

	var g errgroup.Group
	g.Go(func() error { _, err := a.engine.ClaimAll(ctx, "alice"); return err })
	g.Go(func() error { _, err := b.engine.ClaimAll(ctx, "alice"); return err })
	require.NoError(t, g.Wait())

	assert.Equal(t, uint64(50), a.token.HolderBalance("alice"))
	assert.Equal(t, uint64(50), b.token.HolderBalance("alice"))
}
