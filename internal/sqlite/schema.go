package sqlite

// Schema DDL for all tables. Statements are idempotent so Attach can run
// them against an existing database file.
const (
	createMeta = `CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

	createAccounts = `CREATE TABLE IF NOT EXISTS accounts (
    holder TEXT PRIMARY KEY,
    balance INTEGER NOT NULL CHECK (balance >= 0)
);`

	createUnits = `CREATE TABLE IF NOT EXISTS units (
    unit_id INTEGER PRIMARY KEY,
    owner TEXT NOT NULL,
    minted_at TEXT NOT NULL
);`

	createClaims = `CREATE TABLE IF NOT EXISTS claims (
    unit_id INTEGER PRIMARY KEY,
    claimed_at TEXT NOT NULL,
    FOREIGN KEY (unit_id) REFERENCES units(unit_id)
);`

	createReceipts = `CREATE TABLE IF NOT EXISTS receipts (
    claim_id TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    units TEXT NOT NULL,
    amount INTEGER NOT NULL,
    balance INTEGER NOT NULL,
    total_supply INTEGER NOT NULL,
    claimed_at TEXT NOT NULL
);`
)

// Index DDL for common queries.
const (
	idxUnitsOwner      = `CREATE INDEX IF NOT EXISTS idx_units_owner ON units(owner);`
	idxReceiptsHolder  = `CREATE INDEX IF NOT EXISTS idx_receipts_holder ON receipts(holder);`
	idxReceiptsClaimed = `CREATE INDEX IF NOT EXISTS idx_receipts_claimed_at ON receipts(claimed_at);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createMeta,
	createAccounts,
	createUnits,
	createClaims,
	createReceipts,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxUnitsOwner,
	idxReceiptsHolder,
	idxReceiptsClaimed,
}

// Meta keys.
const (
	metaUnlockAt = "unlock_at"
)
