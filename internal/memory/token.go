// Package memory provides in-process implementations of the vault
// collaborators: a fungible token that custodies the pool, a key registry
// that tracks unit ownership, and a claim ledger with tentative marks.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var _ types.ValueStore = (*Token)(nil)

// Token is a fungible balance table. The pool is one account in it;
// BalanceOf and Transfer act on that account.
type Token struct {
	mu       sync.Mutex
	pool     types.Holder
	balances map[types.Holder]uint64
	supply   uint64
}

// NewToken returns an empty token whose pool account is named pool.
func NewToken(pool string) *Token {
	return &Token{
		pool:     types.Holder(pool),
		balances: make(map[types.Holder]uint64),
	}
}

// Address returns the pool account name.
func (t *Token) Address() string {
	return string(t.pool)
}

// Mint creates amount new tokens in the to account.
func (t *Token) Mint(to types.Holder, amount uint64) error {
	if to == "" {
		return types.ErrInvalidHolder
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount > math.MaxUint64-t.supply {
		return fmt.Errorf("%w: minting %d overflows supply %d", types.ErrInvalidAmount, amount, t.supply)
	}
	t.supply += amount
	t.balances[to] += amount
	return nil
}

// Deposit mints amount directly into the pool.
func (t *Token) Deposit(amount uint64) error {
	return t.Mint(t.pool, amount)
}

// Send moves amount from one account to another.
func (t *Token) Send(from, to types.Holder, amount uint64) error {
	if from == "" || to == "" {
		return types.ErrInvalidHolder
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", types.ErrInsufficientBalance, from, t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// HolderBalance returns the balance of any account.
func (t *Token) HolderBalance(h types.Holder) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[h]
}

// Supply returns the number of tokens ever minted.
func (t *Token) Supply() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// BalanceOf returns the pool balance.
func (t *Token) BalanceOf(ctx context.Context) (uint64, error) {
	return t.HolderBalance(t.pool), nil
}

// Transfer pays amount out of the pool.
func (t *Token) Transfer(ctx context.Context, to types.Holder, amount uint64) error {
	return t.Send(t.pool, to, amount)
}
