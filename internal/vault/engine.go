package vault

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var _ types.Vault = (*Engine)(nil)

// Options configures an Engine. Store, Oracle and Ledger are required.
type Options struct {
	Store    types.ValueStore
	Oracle   types.OwnershipOracle
	Ledger   types.ClaimLedger
	UnlockAt time.Time

	// Clock defaults to the wall clock.
	Clock types.Clock

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Engine settles claims for one pool. All claims and previews hold a
// single-slot semaphore, so the balance a claim reads never reflects a
// half-applied earlier claim. Waiting for the slot honours ctx.
type Engine struct {
	sem *semaphore.Weighted

	gate   TimeGate
	calc   *Calculator
	store  types.ValueStore
	oracle types.OwnershipOracle
	ledger types.ClaimLedger
	clock  types.Clock
	log    *zap.Logger
}

// engineKey marks contexts handed to collaborators during a claim.
type engineKey struct{}

// New validates opts and returns an Engine. It refuses to build an engine
// over a registry that has issued no units.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Oracle == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("%w: store, oracle and ledger are required", types.ErrConfiguration)
	}
	total, err := opts.Oracle.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading total supply: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: key registry %s has issued no units", types.ErrConfiguration, opts.Oracle.Address())
	}

	e := &Engine{
		sem:    semaphore.NewWeighted(1),
		gate:   NewTimeGate(opts.UnlockAt),
		calc:   NewCalculator(opts.Store, opts.Oracle),
		store:  opts.Store,
		oracle: opts.Oracle,
		ledger: opts.Ledger,
		clock:  opts.Clock,
		log:    opts.Logger,
	}
	if e.clock == nil {
		e.clock = types.ClockFunc(time.Now)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e, nil
}

// ClaimAll pays holder the share of every unclaimed unit it currently owns.
func (e *Engine) ClaimAll(ctx context.Context, holder types.Holder) (types.Receipt, error) {
	if e.reentered(ctx) {
		return types.Receipt{}, types.ErrReentrantClaim
	}
	if err := e.acquire(ctx); err != nil {
		return types.Receipt{}, err
	}
	defer e.sem.Release(1)

	if err := e.checkUnlocked(holder); err != nil {
		return types.Receipt{}, err
	}

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()
	txCtx := context.WithValue(tx.Context(), engineKey{}, e)

	owned, err := e.owned(txCtx, holder)
	if err != nil {
		return types.Receipt{}, err
	}
	ent, err := e.calc.Compute(txCtx, owned, tx.IsClaimed)
	if err != nil {
		return types.Receipt{}, err
	}
	if ent.Empty() {
		e.log.Debug("claim rejected",
			zap.String("event", "claim_rejected"),
			zap.String("holder", string(holder)),
			zap.Int("owned", len(owned)),
			zap.Int("unclaimed", len(ent.Units)),
			zap.Uint64("balance", ent.Balance),
		)
		return types.Receipt{}, fmt.Errorf("%w: holder %s", types.ErrNothingClaimable, holder)
	}
	return e.settle(txCtx, tx, holder, ent)
}

// Claim pays holder the share of a single unit.
func (e *Engine) Claim(ctx context.Context, holder types.Holder, unit types.UnitID) (types.Receipt, error) {
	if e.reentered(ctx) {
		return types.Receipt{}, types.ErrReentrantClaim
	}
	if err := e.acquire(ctx); err != nil {
		return types.Receipt{}, err
	}
	defer e.sem.Release(1)

	if err := e.checkUnlocked(holder); err != nil {
		return types.Receipt{}, err
	}

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()
	txCtx := context.WithValue(tx.Context(), engineKey{}, e)

	owned, err := e.owned(txCtx, holder)
	if err != nil {
		return types.Receipt{}, err
	}
	if _, found := slices.BinarySearch(owned, unit); !found {
		return types.Receipt{}, fmt.Errorf("%w: holder %s, unit %d", types.ErrNotOwner, holder, unit)
	}
	claimed, err := tx.IsClaimed(unit)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("checking unit %d: %w", unit, err)
	}
	if claimed {
		return types.Receipt{}, fmt.Errorf("%w: unit %d", types.ErrAlreadyClaimed, unit)
	}

	ent, err := e.calc.Compute(txCtx, []types.UnitID{unit}, tx.IsClaimed)
	if err != nil {
		return types.Receipt{}, err
	}
	if ent.Empty() {
		return types.Receipt{}, fmt.Errorf("%w: unit %d pays nothing at balance %d", types.ErrNothingClaimable, unit, ent.Balance)
	}
	return e.settle(txCtx, tx, holder, ent)
}

// settle marks the units, pays the holder, and commits. A failed transfer
// rolls the marks back so the units stay claimable.
func (e *Engine) settle(ctx context.Context, tx types.LedgerTx, holder types.Holder, ent types.Entitlement) (types.Receipt, error) {
	if err := tx.MarkClaimed(ent.Units); err != nil {
		return types.Receipt{}, fmt.Errorf("marking units claimed: %w", err)
	}

	if err := e.store.Transfer(ctx, holder, ent.Amount); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.log.Error("ledger rollback failed after transfer failure",
				zap.String("holder", string(holder)),
				zap.Error(rbErr),
			)
			return types.Receipt{}, fmt.Errorf("%w: %w (rollback: %v)", types.ErrTransferFailed, err, rbErr)
		}
		e.log.Warn("transfer failed, ledger rolled back",
			zap.String("event", "claim_transfer_failed"),
			zap.String("holder", string(holder)),
			zap.Uint64("amount", ent.Amount),
			zap.Error(err),
		)
		return types.Receipt{}, fmt.Errorf("%w: %w", types.ErrTransferFailed, err)
	}

	r := types.Receipt{
		ClaimID:     newClaimID(),
		Holder:      holder,
		Units:       ent.Units,
		Amount:      ent.Amount,
		Balance:     ent.Balance,
		TotalSupply: ent.TotalSupply,
		ClaimedAt:   e.clock.Now().UTC(),
	}
	if rec, ok := tx.(types.ReceiptRecorder); ok {
		if err := rec.RecordReceipt(r); err != nil {
			return types.Receipt{}, fmt.Errorf("recording receipt: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		e.log.Error("ledger commit failed",
			zap.String("holder", string(holder)),
			zap.String("claim_id", r.ClaimID),
			zap.Error(err),
		)
		return types.Receipt{}, fmt.Errorf("committing claim: %w", err)
	}

	e.log.Info("claim committed",
		zap.String("event", "claim_committed"),
		zap.String("claim_id", r.ClaimID),
		zap.String("holder", string(holder)),
		zap.Int("units", len(r.Units)),
		zap.Uint64("amount", r.Amount),
		zap.Uint64("balance", r.Balance),
		zap.Uint64("total_supply", r.TotalSupply),
	)
	return r, nil
}

// Entitlement previews ClaimAll for holder. It returns ErrLocked before the
// unlock instant, like the claim itself would.
func (e *Engine) Entitlement(ctx context.Context, holder types.Holder) (types.Entitlement, error) {
	if err := e.acquire(ctx); err != nil {
		return types.Entitlement{}, err
	}
	defer e.sem.Release(1)

	if err := e.checkUnlocked(holder); err != nil {
		return types.Entitlement{}, err
	}
	owned, err := e.owned(ctx, holder)
	if err != nil {
		return types.Entitlement{}, err
	}
	return e.calc.Compute(ctx, owned, func(u types.UnitID) (bool, error) {
		return e.ledger.IsClaimed(ctx, u)
	})
}

// Balance returns the live pool balance.
func (e *Engine) Balance(ctx context.Context) (uint64, error) {
	return e.store.BalanceOf(ctx)
}

// IsClaimed reports whether unit has been claimed.
func (e *Engine) IsClaimed(ctx context.Context, unit types.UnitID) (bool, error) {
	return e.ledger.IsClaimed(ctx, unit)
}

func (e *Engine) UnlockAt() time.Time { return e.gate.UnlockAt() }

func (e *Engine) Unlocked() bool { return e.gate.IsUnlocked(e.clock.Now()) }

func (e *Engine) ValueStoreAddress() string { return e.store.Address() }

func (e *Engine) KeyRegistryAddress() string { return e.oracle.Address() }

func (e *Engine) checkUnlocked(holder types.Holder) error {
	now := e.clock.Now()
	if e.gate.IsUnlocked(now) {
		return nil
	}
	e.log.Debug("claim rejected",
		zap.String("event", "claim_locked"),
		zap.String("holder", string(holder)),
		zap.Time("unlock_at", e.gate.UnlockAt()),
	)
	return fmt.Errorf("%w until %s", types.ErrLocked, e.gate.UnlockAt().UTC().Format(time.RFC3339))
}

// owned returns the holder's units, deduplicated and sorted.
func (e *Engine) owned(ctx context.Context, holder types.Holder) ([]types.UnitID, error) {
	units, err := e.oracle.UnitsOwnedBy(ctx, holder)
	if err != nil {
		return nil, fmt.Errorf("resolving units of %s: %w", holder, err)
	}
	return types.NormalizeUnits(units), nil
}

// acquire waits for the engine slot until ctx is done.
func (e *Engine) acquire(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for engine: %w", err)
	}
	return nil
}

func (e *Engine) reentered(ctx context.Context) bool {
	owner, _ := ctx.Value(engineKey{}).(*Engine)
	return owner == e
}

// newClaimID generates a UUID v7 string for a receipt.
func newClaimID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsUserError reports whether err belongs to the recoverable claim taxonomy
// (as opposed to configuration or storage failures).
func IsUserError(err error) bool {
	for _, target := range []error{
		types.ErrLocked,
		types.ErrNothingClaimable,
		types.ErrNotOwner,
		types.ErrAlreadyClaimed,
		types.ErrTransferFailed,
		types.ErrReentrantClaim,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
