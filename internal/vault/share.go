package vault

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

// Share returns floor(balance * units / total). The product is taken at 128
// bits so the result is exact for any uint64 balance. It fails with
// ErrConfiguration when total is zero or units exceeds total.
func Share(balance, units, total uint64) (uint64, error) {
	if total == 0 {
		return 0, fmt.Errorf("%w: total supply is zero", types.ErrConfiguration)
	}
	if units > total {
		return 0, fmt.Errorf("%w: %d units exceed total supply %d", types.ErrConfiguration, units, total)
	}
	// units <= total keeps hi below total, so Div64 cannot overflow.
	hi, lo := bits.Mul64(balance, units)
	q, _ := bits.Div64(hi, lo, total)
	return q, nil
}

// Calculator computes entitlements from the live pool balance and the
// oracle's total supply.
type Calculator struct {
	store  types.ValueStore
	oracle types.OwnershipOracle
}

// NewCalculator returns a Calculator reading from store and oracle.
func NewCalculator(store types.ValueStore, oracle types.OwnershipOracle) *Calculator {
	return &Calculator{store: store, oracle: oracle}
}

// Compute filters owned down to the units isClaimed reports as unclaimed
// and prices them against the current balance. When no unit survives the
// filter it returns an empty Entitlement and reads nothing else.
// owned must already be normalized.
func (c *Calculator) Compute(ctx context.Context, owned []types.UnitID, isClaimed func(types.UnitID) (bool, error)) (types.Entitlement, error) {
	var unclaimed []types.UnitID
	for _, u := range owned {
		claimed, err := isClaimed(u)
		if err != nil {
			return types.Entitlement{}, fmt.Errorf("checking unit %d: %w", u, err)
		}
		if !claimed {
			unclaimed = append(unclaimed, u)
		}
	}
	if len(unclaimed) == 0 {
		return types.Entitlement{}, nil
	}

	balance, err := c.store.BalanceOf(ctx)
	if err != nil {
		return types.Entitlement{}, fmt.Errorf("reading pool balance: %w", err)
	}
	total, err := c.oracle.TotalSupply(ctx)
	if err != nil {
		return types.Entitlement{}, fmt.Errorf("reading total supply: %w", err)
	}
	for _, u := range unclaimed {
		if uint64(u) >= total {
			return types.Entitlement{}, fmt.Errorf("%w: unit %d outside supply %d", types.ErrConfiguration, u, total)
		}
	}

	amount, err := Share(balance, uint64(len(unclaimed)), total)
	if err != nil {
		return types.Entitlement{}, err
	}
	return types.Entitlement{
		Units:       unclaimed,
		Amount:      amount,
		Balance:     balance,
		TotalSupply: total,
	}, nil
}
