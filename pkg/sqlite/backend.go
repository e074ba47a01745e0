// Package sqlite provides the public API for the SQLite keyvault backend.
// This package exposes the factory function for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/keyvault/internal/sqlite"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

// Option configures a backend. See WithLogger.
type Option = sqlite.Option

// WithLogger sets the logger used for backend warnings.
var WithLogger = sqlite.WithLogger

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	err := backend.Attach(types.Config{
//	    Backend:  types.BackendSQLite,
//	    DataDir:  ".keyvault-db",
//	    Pool:     types.DefaultPool,
//	    Registry: types.DefaultRegistry,
//	})
//	defer backend.Detach()
//	v, err := vault.New(ctx, vault.Options{
//	    Store:  backend.Store(),
//	    Oracle: backend.Oracle(),
//	    Ledger: backend.Ledger(),
//	})
func NewBackend(opts ...Option) types.Backend {
	return sqlite.NewBackend(opts...)
}
