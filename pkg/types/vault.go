package types

import (
	"context"
	"errors"
	"time"
)

// Vault is the public surface of a claim engine bound to one pool.
// Every method is safe for concurrent use; claims against the same Vault are
// serialized end to end.
type Vault interface {
	// ClaimAll pays holder the pool share of every unclaimed unit it owns
	// and marks those units claimed.
	ClaimAll(ctx context.Context, holder Holder) (Receipt, error)

	// Claim pays holder the pool share of a single unit it owns.
	Claim(ctx context.Context, holder Holder, unit UnitID) (Receipt, error)

	// Entitlement previews what ClaimAll would pay holder right now without
	// changing any state.
	Entitlement(ctx context.Context, holder Holder) (Entitlement, error)

	// Balance returns the live pool balance.
	Balance(ctx context.Context) (uint64, error)

	// IsClaimed reports whether unit has already been used to claim.
	IsClaimed(ctx context.Context, unit UnitID) (bool, error)

	// UnlockAt returns the fixed unlock instant.
	UnlockAt() time.Time

	// Unlocked reports whether claims are currently allowed.
	Unlocked() bool

	ValueStoreAddress() string
	KeyRegistryAddress() string
}

// OwnershipOracle answers who owns which key units. Answers must reflect
// ownership at call time.
type OwnershipOracle interface {
	// UnitsOwnedBy returns the units currently owned by holder.
	UnitsOwnedBy(ctx context.Context, holder Holder) ([]UnitID, error)

	// TotalSupply returns the number of units ever issued.
	TotalSupply(ctx context.Context) (uint64, error)

	// Address identifies the key registry.
	Address() string
}

// ValueStore custodies the pool's fungible value.
type ValueStore interface {
	// BalanceOf returns the amount currently held by the pool.
	BalanceOf(ctx context.Context) (uint64, error)

	// Transfer pays amount from the pool to the given holder. An
	// implementation that calls back into the engine must pass ctx along;
	// the engine rejects such calls with ErrReentrantClaim, and a call made
	// with an unrelated context waits until that context is done.
	Transfer(ctx context.Context, to Holder, amount uint64) error

	// Address identifies the pool within the value store.
	Address() string
}

// ClaimLedger records which units have already been used to claim.
// Flags only ever move from unclaimed to claimed, and only through a
// committed LedgerTx.
type ClaimLedger interface {
	IsClaimed(ctx context.Context, unit UnitID) (bool, error)

	// Begin opens a transaction. The caller must Commit or Rollback it.
	Begin(ctx context.Context) (LedgerTx, error)
}

// LedgerTx is one transactional boundary around a claim. Marks are visible
// through IsClaimed as soon as MarkClaimed returns and are undone by
// Rollback unless Commit succeeded first.
type LedgerTx interface {
	// Context returns the context carrying the transaction. Collaborators
	// that share storage with the ledger use it to join the transaction.
	Context() context.Context

	IsClaimed(unit UnitID) (bool, error)

	// MarkClaimed flags every unit as claimed. It returns an error wrapping
	// ErrAlreadyClaimed, and applies nothing, if any unit is already
	// claimed.
	MarkClaimed(units []UnitID) error

	Commit() error

	// Rollback undoes uncommitted marks. It is a no-op after Commit.
	Rollback() error
}

// ReceiptRecorder is implemented by ledger transactions that persist
// receipts alongside the claimed flags.
type ReceiptRecorder interface {
	RecordReceipt(r Receipt) error
}

// Backend bundles the three collaborators over one storage engine so that a
// claim's ledger marks and transfer share a transaction.
type Backend interface {
	// Attach opens the backend described by config. Returns
	// ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent.
	Detach() error

	Store() ValueStore
	Oracle() OwnershipOracle
	Ledger() ClaimLedger
}

// Clock supplies the current time to the time gate.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// Claim errors. All are recoverable except ErrConfiguration.
var (
	ErrLocked           = errors.New("vault is still locked")
	ErrNothingClaimable = errors.New("nothing to claim")
	ErrNotOwner         = errors.New("holder does not own unit")
	ErrAlreadyClaimed   = errors.New("unit already claimed")
	ErrConfiguration    = errors.New("invalid vault configuration")
	ErrTransferFailed   = errors.New("value transfer failed")
	ErrReentrantClaim   = errors.New("claim re-entered during transfer")
)

// Backend lifecycle errors.
var (
	ErrBackendDetached = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// Collaborator errors returned by the reference value store and key
// registry.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidHolder       = errors.New("holder cannot be empty")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnitNotFound        = errors.New("unit not found")
)
