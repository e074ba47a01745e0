// Package vault implements the claim engine: the unlock gate, the
// proportional share calculator, and the engine that settles claims against
// a ledger and a value store.
package vault

import "time"

// TimeGate holds the fixed instant from which claims are allowed.
type TimeGate struct {
	unlockAt time.Time
}

// NewTimeGate returns a gate that opens at unlockAt.
func NewTimeGate(unlockAt time.Time) TimeGate {
	return TimeGate{unlockAt: unlockAt}
}

// IsUnlocked reports whether now is at or after the unlock instant.
func (g TimeGate) IsUnlocked(now time.Time) bool {
	return !now.Before(g.unlockAt)
}

// UnlockAt returns the unlock instant.
func (g TimeGate) UnlockAt() time.Time {
	return g.unlockAt
}
