package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var _ types.ValueStore = (*Pool)(nil)

// Pool is a fungible balance table stored in the accounts table. The pool
// itself is the account named by Config.Pool.
type Pool struct {
	backend *Backend
	address types.Holder
}

// Address returns the pool account name.
func (p *Pool) Address() string {
	return string(p.address)
}

// BalanceOf returns the pool balance.
func (p *Pool) BalanceOf(ctx context.Context) (uint64, error) {
	return p.HolderBalance(ctx, p.address)
}

// HolderBalance returns the balance of any account. Unknown accounts hold
// zero.
func (p *Pool) HolderBalance(ctx context.Context, h types.Holder) (uint64, error) {
	q, err := p.backend.conn(ctx)
	if err != nil {
		return 0, err
	}
	return balanceOf(ctx, q, h)
}

// Transfer pays amount out of the pool. Inside a claim it joins the
// claim's transaction.
func (p *Pool) Transfer(ctx context.Context, to types.Holder, amount uint64) error {
	return p.Send(ctx, p.address, to, amount)
}

// Deposit credits amount to the pool as newly issued value.
func (p *Pool) Deposit(ctx context.Context, amount uint64) error {
	return p.Mint(ctx, p.address, amount)
}

// Mint credits amount to the to account.
func (p *Pool) Mint(ctx context.Context, to types.Holder, amount uint64) error {
	if to == "" {
		return types.ErrInvalidHolder
	}
	return p.backend.withTx(ctx, func(q querier) error {
		return credit(ctx, q, to, amount)
	})
}

// Send moves amount between two accounts.
func (p *Pool) Send(ctx context.Context, from, to types.Holder, amount uint64) error {
	if from == "" || to == "" {
		return types.ErrInvalidHolder
	}
	return p.backend.withTx(ctx, func(q querier) error {
		have, err := balanceOf(ctx, q, from)
		if err != nil {
			return err
		}
		if have < amount {
			return fmt.Errorf("%w: %s holds %d, needs %d", types.ErrInsufficientBalance, from, have, amount)
		}
		if _, err := q.ExecContext(ctx,
			"UPDATE accounts SET balance = ? WHERE holder = ?",
			int64(have-amount), string(from),
		); err != nil {
			return fmt.Errorf("debiting %s: %w", from, err)
		}
		return credit(ctx, q, to, amount)
	})
}

func balanceOf(ctx context.Context, q querier, h types.Holder) (uint64, error) {
	var bal int64
	err := q.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE holder = ?", string(h)).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading balance of %s: %w", h, err)
	}
	return uint64(bal), nil
}

func credit(ctx context.Context, q querier, to types.Holder, amount uint64) error {
	have, err := balanceOf(ctx, q, to)
	if err != nil {
		return err
	}
	if amount > math.MaxInt64-have {
		return fmt.Errorf("%w: crediting %d to %s overflows", types.ErrInvalidAmount, amount, to)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO accounts (holder, balance) VALUES (?, ?)
		 ON CONFLICT(holder) DO UPDATE SET balance = excluded.balance`,
		string(to), int64(have+amount),
	); err != nil {
		return fmt.Errorf("crediting %s: %w", to, err)
	}
	return nil
}
