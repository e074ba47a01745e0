// Package types defines the Vault interface, the collaborator interfaces the
// claim engine consumes (OwnershipOracle, ValueStore, ClaimLedger), the
// entity types shared by every backend, and the standard error values.
package types
