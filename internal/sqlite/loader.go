package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

// Export writes a JSONL snapshot of every table into dir. Each file is
// replaced atomically; the snapshot is read inside one transaction.
func (b *Backend) Export(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	files := make(map[string][]json.RawMessage)
	err := b.withTx(ctx, func(q querier) error {
		var err error
		if files[metaJSONL], err = exportRows(ctx, q, "SELECT key, value FROM meta ORDER BY key",
			func(s scanner) (metaJSON, error) {
				var r metaJSON
				err := s.Scan(&r.Key, &r.Value)
				return r, err
			}); err != nil {
			return err
		}
		if files[accountsJSONL], err = exportRows(ctx, q, "SELECT holder, balance FROM accounts ORDER BY holder",
			func(s scanner) (accountJSON, error) {
				var r accountJSON
				err := s.Scan(&r.Holder, &r.Balance)
				return r, err
			}); err != nil {
			return err
		}
		if files[unitsJSONL], err = exportRows(ctx, q, "SELECT unit_id, owner, minted_at FROM units ORDER BY unit_id",
			func(s scanner) (unitJSON, error) {
				var r unitJSON
				err := s.Scan(&r.UnitID, &r.Owner, &r.MintedAt)
				return r, err
			}); err != nil {
			return err
		}
		if files[claimedJSONL], err = exportRows(ctx, q, "SELECT unit_id, claimed_at FROM claims ORDER BY unit_id",
			func(s scanner) (claimJSON, error) {
				var r claimJSON
				err := s.Scan(&r.UnitID, &r.ClaimedAt)
				return r, err
			}); err != nil {
			return err
		}
		receipts, err := listReceipts(ctx, q, "")
		if err != nil {
			return err
		}
		files[receiptsJSONL], err = marshalRecords(receipts)
		return err
	})
	if err != nil {
		return fmt.Errorf("exporting snapshot: %w", err)
	}

	for _, name := range snapshotFiles {
		if err := writeJSONL(filepath.Join(dir, name), files[name]); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	b.log.Info("snapshot exported", zap.String("dir", dir))
	return nil
}

// snapshot holds decoded snapshot records ready to load.
type snapshot struct {
	meta     []metaJSON
	accounts []accountJSON
	units    []unitJSON
	claims   []claimJSON
	receipts []receiptJSON

	unlockAt    int64
	hasUnlockAt bool
}

// Restore replaces every table with the JSONL snapshot in dir. Every
// snapshot file must be present and every record must decode; loading is
// transactional, so either the whole snapshot is applied or nothing changes.
// Once a vault has recorded its unlock instant, only a snapshot carrying the
// same instant can be restored into it.
func (b *Backend) Restore(ctx context.Context, dir string) error {
	snap, err := readSnapshot(dir)
	if err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}

	err = b.withTx(ctx, func(q querier) error {
		recorded, ok, err := readUnlockAt(ctx, q)
		if err != nil {
			return err
		}
		if ok && (!snap.hasUnlockAt || snap.unlockAt != recorded) {
			return fmt.Errorf("%w: snapshot does not carry the recorded unlock instant %d", types.ErrConfiguration, recorded)
		}

		for _, table := range []string{"receipts", "claims", "units", "accounts", "meta"} {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		for _, r := range snap.meta {
			if _, err := q.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", r.Key, r.Value); err != nil {
				return fmt.Errorf("restoring meta %s: %w", r.Key, err)
			}
		}
		for _, r := range snap.accounts {
			if _, err := q.ExecContext(ctx, "INSERT INTO accounts (holder, balance) VALUES (?, ?)", r.Holder, r.Balance); err != nil {
				return fmt.Errorf("restoring account %s: %w", r.Holder, err)
			}
		}
		for _, r := range snap.units {
			if _, err := q.ExecContext(ctx,
				"INSERT INTO units (unit_id, owner, minted_at) VALUES (?, ?, ?)",
				r.UnitID, r.Owner, r.MintedAt,
			); err != nil {
				return fmt.Errorf("restoring unit %d: %w", r.UnitID, err)
			}
		}
		if err := checkUnitRange(ctx, q); err != nil {
			return err
		}
		for _, r := range snap.claims {
			if _, err := q.ExecContext(ctx,
				"INSERT INTO claims (unit_id, claimed_at) VALUES (?, ?)",
				r.UnitID, r.ClaimedAt,
			); err != nil {
				return fmt.Errorf("restoring claim of unit %d: %w", r.UnitID, err)
			}
		}
		for _, r := range snap.receipts {
			if err := insertReceipt(ctx, q, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}
	b.log.Info("snapshot restored", zap.String("dir", dir))
	return nil
}

// readSnapshot reads and decodes every snapshot file in dir.
func readSnapshot(dir string) (snapshot, error) {
	lines := make(map[string][]json.RawMessage, len(snapshotFiles))
	for _, name := range snapshotFiles {
		recs, err := readSnapshotJSONL(filepath.Join(dir, name))
		if err != nil {
			return snapshot{}, err
		}
		lines[name] = recs
	}

	var (
		snap snapshot
		err  error
	)
	if snap.meta, err = decodeRecords[metaJSON](metaJSONL, lines[metaJSONL]); err != nil {
		return snapshot{}, err
	}
	if snap.accounts, err = decodeRecords[accountJSON](accountsJSONL, lines[accountsJSONL]); err != nil {
		return snapshot{}, err
	}
	if snap.units, err = decodeRecords[unitJSON](unitsJSONL, lines[unitsJSONL]); err != nil {
		return snapshot{}, err
	}
	if snap.claims, err = decodeRecords[claimJSON](claimedJSONL, lines[claimedJSONL]); err != nil {
		return snapshot{}, err
	}
	if snap.receipts, err = decodeRecords[receiptJSON](receiptsJSONL, lines[receiptsJSONL]); err != nil {
		return snapshot{}, err
	}

	for _, r := range snap.meta {
		if r.Key == "" {
			return snapshot{}, fmt.Errorf("%w: %s record without a key", errCorruptSnapshot, metaJSONL)
		}
		if r.Key == metaUnlockAt {
			if snap.unlockAt, err = parseUnlockAt(r.Value); err != nil {
				return snapshot{}, err
			}
			snap.hasUnlockAt = true
		}
	}
	for _, r := range snap.accounts {
		if r.Holder == "" {
			return snapshot{}, fmt.Errorf("%w: %s record without a holder", errCorruptSnapshot, accountsJSONL)
		}
	}
	for _, r := range snap.units {
		if r.Owner == "" {
			return snapshot{}, fmt.Errorf("%w: %s unit %d without an owner", errCorruptSnapshot, unitsJSONL, r.UnitID)
		}
	}
	for _, r := range snap.claims {
		if r.ClaimedAt == "" {
			return snapshot{}, fmt.Errorf("%w: %s unit %d without a claim instant", errCorruptSnapshot, claimedJSONL, r.UnitID)
		}
	}
	return snap, nil
}

// checkUnitRange verifies restored unit IDs are exactly [0, count).
func checkUnitRange(ctx context.Context, q querier) error {
	var count, lo, hi int64
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MIN(unit_id), 0), COALESCE(MAX(unit_id), -1) FROM units",
	).Scan(&count, &lo, &hi); err != nil {
		return fmt.Errorf("checking unit ids: %w", err)
	}
	if lo != 0 || hi != count-1 {
		return fmt.Errorf("%w: %d units with ids %d..%d", errCorruptSnapshot, count, lo, hi)
	}
	return nil
}

// snapshotFiles lists snapshot files in write order.
var snapshotFiles = []string{metaJSONL, accountsJSONL, unitsJSONL, claimedJSONL, receiptsJSONL}

type scanner interface {
	Scan(dest ...any) error
}

func exportRows[T any](ctx context.Context, q querier, query string, scan func(scanner) (T, error)) ([]json.RawMessage, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", query, err)
	}
	defer rows.Close()

	var records []T
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return marshalRecords(records)
}
