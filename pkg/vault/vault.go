// Package vault is the public entry point for building a claim engine over
// caller-supplied collaborators.
//
// Example:
//
//	v, err := vault.New(ctx, vault.Options{
//	    Store:    token,
//	    Oracle:   registry,
//	    Ledger:   ledger,
//	    UnlockAt: time.Unix(unlockSeconds, 0),
//	})
//	receipt, err := v.ClaimAll(ctx, "alice")
package vault

import (
	"context"

	"github.com/mesh-intelligence/keyvault/internal/vault"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

// Version is the keyvault release version.
const Version = "0.1.0"

// Options configures a Vault. See the field docs on the internal engine
// options: Store, Oracle and Ledger are required, Clock and Logger are
// optional.
type Options = vault.Options

// New returns a Vault for one pool. It fails with types.ErrConfiguration
// when a collaborator is missing or the key registry has issued no units.
func New(ctx context.Context, opts Options) (types.Vault, error) {
	e, err := vault.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e, nil
}
