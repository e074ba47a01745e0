package sqlite

import "github.com/mesh-intelligence/keyvault/pkg/types"

// Snapshot file names written by Export and read by Restore.
const (
	metaJSONL     = "meta.jsonl"
	accountsJSONL = "accounts.jsonl"
	unitsJSONL    = "units.jsonl"
	claimedJSONL  = "claimed_units.jsonl"
	receiptsJSONL = "receipts.jsonl"
)

// metaJSON represents one row of meta.jsonl.
type metaJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// accountJSON represents one row of accounts.jsonl.
type accountJSON struct {
	Holder  string `json:"holder"`
	Balance int64  `json:"balance"`
}

// unitJSON represents one row of units.jsonl.
type unitJSON struct {
	UnitID   int64  `json:"unit_id"`
	Owner    string `json:"owner"`
	MintedAt string `json:"minted_at"`
}

// claimJSON represents one row of claimed_units.jsonl.
type claimJSON struct {
	UnitID    int64  `json:"unit_id"`
	ClaimedAt string `json:"claimed_at"`
}

// receiptJSON is the receipt record shared by receipts.jsonl and the
// claims journal.
type receiptJSON = types.Receipt
