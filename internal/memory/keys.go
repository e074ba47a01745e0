package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var _ types.OwnershipOracle = (*KeyRegistry)(nil)

// KeyRegistry issues key units sequentially and tracks their owners.
// Unit n is the n-th unit ever minted.
type KeyRegistry struct {
	mu     sync.RWMutex
	name   string
	owners []types.Holder
}

// NewKeyRegistry returns a registry with no units.
func NewKeyRegistry(name string) *KeyRegistry {
	return &KeyRegistry{name: name}
}

func (r *KeyRegistry) Address() string {
	return r.name
}

// Mint issues count new units to holder and returns their IDs.
func (r *KeyRegistry) Mint(to types.Holder, count int) ([]types.UnitID, error) {
	if to == "" {
		return nil, types.ErrInvalidHolder
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count %d", types.ErrInvalidAmount, count)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]types.UnitID, 0, count)
	for range count {
		ids = append(ids, types.UnitID(len(r.owners)))
		r.owners = append(r.owners, to)
	}
	return ids, nil
}

// TransferUnit moves unit from one holder to another.
func (r *KeyRegistry) TransferUnit(from, to types.Holder, unit types.UnitID) error {
	if to == "" {
		return types.ErrInvalidHolder
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint64(unit) >= uint64(len(r.owners)) {
		return fmt.Errorf("%w: %d", types.ErrUnitNotFound, unit)
	}
	if r.owners[unit] != from {
		return fmt.Errorf("%w: holder %s, unit %d", types.ErrNotOwner, from, unit)
	}
	r.owners[unit] = to
	return nil
}

// OwnerOf returns the current owner of unit.
func (r *KeyRegistry) OwnerOf(unit types.UnitID) (types.Holder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if uint64(unit) >= uint64(len(r.owners)) {
		return "", fmt.Errorf("%w: %d", types.ErrUnitNotFound, unit)
	}
	return r.owners[unit], nil
}

// UnitsOwnedBy returns holder's units in ascending order.
func (r *KeyRegistry) UnitsOwnedBy(ctx context.Context, holder types.Holder) ([]types.UnitID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var units []types.UnitID
	for id, owner := range r.owners {
		if owner == holder {
			units = append(units, types.UnitID(id))
		}
	}
	return units, nil
}

func (r *KeyRegistry) TotalSupply(ctx context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.owners)), nil
}
