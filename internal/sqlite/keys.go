package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var _ types.OwnershipOracle = (*KeyRegistry)(nil)

// KeyRegistry stores key units in the units table. Units are numbered in
// mint order starting at zero.
type KeyRegistry struct {
	backend *Backend
	name    string
}

func (r *KeyRegistry) Address() string {
	return r.name
}

// Mint issues count new units to holder and returns their IDs.
func (r *KeyRegistry) Mint(ctx context.Context, to types.Holder, count int) ([]types.UnitID, error) {
	if to == "" {
		return nil, types.ErrInvalidHolder
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count %d", types.ErrInvalidAmount, count)
	}
	var ids []types.UnitID
	err := r.backend.withTx(ctx, func(q querier) error {
		var next int64
		if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(unit_id) + 1, 0) FROM units").Scan(&next); err != nil {
			return fmt.Errorf("reading next unit id: %w", err)
		}
		mintedAt := time.Now().UTC().Format(time.RFC3339)
		for i := range int64(count) {
			id := next + i
			if _, err := q.ExecContext(ctx,
				"INSERT INTO units (unit_id, owner, minted_at) VALUES (?, ?, ?)",
				id, string(to), mintedAt,
			); err != nil {
				return fmt.Errorf("minting unit %d: %w", id, err)
			}
			ids = append(ids, types.UnitID(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// TransferUnit moves unit from one holder to another.
func (r *KeyRegistry) TransferUnit(ctx context.Context, from, to types.Holder, unit types.UnitID) error {
	if to == "" {
		return types.ErrInvalidHolder
	}
	return r.backend.withTx(ctx, func(q querier) error {
		owner, err := ownerOf(ctx, q, unit)
		if err != nil {
			return err
		}
		if owner != from {
			return fmt.Errorf("%w: holder %s, unit %d", types.ErrNotOwner, from, unit)
		}
		if _, err := q.ExecContext(ctx,
			"UPDATE units SET owner = ? WHERE unit_id = ?",
			string(to), int64(unit),
		); err != nil {
			return fmt.Errorf("transferring unit %d: %w", unit, err)
		}
		return nil
	})
}

// OwnerOf returns the current owner of unit.
func (r *KeyRegistry) OwnerOf(ctx context.Context, unit types.UnitID) (types.Holder, error) {
	q, err := r.backend.conn(ctx)
	if err != nil {
		return "", err
	}
	return ownerOf(ctx, q, unit)
}

// UnitsOwnedBy returns holder's units in ascending order.
func (r *KeyRegistry) UnitsOwnedBy(ctx context.Context, holder types.Holder) ([]types.UnitID, error) {
	q, err := r.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		"SELECT unit_id FROM units WHERE owner = ? ORDER BY unit_id",
		string(holder),
	)
	if err != nil {
		return nil, fmt.Errorf("listing units of %s: %w", holder, err)
	}
	defer rows.Close()

	var units []types.UnitID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		units = append(units, types.UnitID(id))
	}
	return units, rows.Err()
}

func (r *KeyRegistry) TotalSupply(ctx context.Context) (uint64, error) {
	q, err := r.backend.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return uint64(n), nil
}

func ownerOf(ctx context.Context, q querier, unit types.UnitID) (types.Holder, error) {
	var owner string
	err := q.QueryRowContext(ctx, "SELECT owner FROM units WHERE unit_id = ?", int64(unit)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", types.ErrUnitNotFound, unit)
	}
	if err != nil {
		return "", fmt.Errorf("reading owner of unit %d: %w", unit, err)
	}
	return types.Holder(owner), nil
}
