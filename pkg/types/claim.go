package types

import (
	"slices"
	"time"
)

// Holder identifies an owner of key units and the payee of a claim.
type Holder string

// UnitID identifies one key unit. Issued units occupy [0, TotalSupply).
type UnitID uint64

// Entitlement is the share owed for a set of unclaimed units, derived from
// the pool balance and total supply observed at computation time. It is
// never stored.
type Entitlement struct {
	Units       []UnitID `json:"units"`
	Amount      uint64   `json:"amount"`
	Balance     uint64   `json:"balance"`
	TotalSupply uint64   `json:"total_supply"`
}

// Empty reports whether there is nothing to pay.
func (e Entitlement) Empty() bool {
	return len(e.Units) == 0 || e.Amount == 0
}

// Receipt records one committed claim.
type Receipt struct {
	ClaimID     string    `json:"claim_id"`
	Holder      Holder    `json:"holder"`
	Units       []UnitID  `json:"units"`
	Amount      uint64    `json:"amount"`
	Balance     uint64    `json:"balance"`
	TotalSupply uint64    `json:"total_supply"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// NormalizeUnits returns the distinct units in ascending order. The input
// is not modified.
func NormalizeUnits(units []UnitID) []UnitID {
	out := slices.Clone(units)
	slices.Sort(out)
	return slices.Compact(out)
}
