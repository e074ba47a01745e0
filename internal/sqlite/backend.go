// Package sqlite implements the SQLite storage backend for keyvault. One
// database holds the pool's accounts, the key registry's units, the claim
// ledger and committed receipts, so a claim's ledger marks and its transfer
// commit in a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/keyvault/pkg/types"
)

var _ types.Backend = (*Backend)(nil)

// File names inside DataDir.
const (
	dbFileName      = "vault.db"
	journalFileName = "claims.jsonl"
)

// Backend implements types.Backend on a single SQLite database file.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	log      *zap.Logger

	pool   *Pool
	keys   *KeyRegistry
	ledger *Ledger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for journal warnings.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach opens (creating if needed) DataDir/vault.db and applies the schema.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	config.DataDir = dataDir

	dsn := filepath.Join(dataDir, dbFileName) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	// A single connection serializes writers; claims hold it for the
	// length of their transaction.
	db.SetMaxOpenConns(1)

	for _, stmt := range slices.Concat(schemaDDL, indexDDL) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.pool = &Pool{backend: b, address: types.Holder(config.Pool)}
	b.keys = &KeyRegistry{backend: b, name: config.Registry}
	b.ledger = &Ledger{backend: b}
	b.attached = true
	return nil
}

// Detach closes the database. Idempotent. After Detach, all operations
// return ErrBackendDetached.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// Pool returns the value store holding the configured pool account.
func (b *Backend) Pool() *Pool { return b.pool }

// Keys returns the key registry.
func (b *Backend) Keys() *KeyRegistry { return b.keys }

// Claims returns the claim ledger.
func (b *Backend) Claims() *Ledger { return b.ledger }

func (b *Backend) Store() types.ValueStore        { return b.pool }
func (b *Backend) Oracle() types.OwnershipOracle { return b.keys }
func (b *Backend) Ledger() types.ClaimLedger     { return b.ledger }

// DataDir returns the attached data directory.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.DataDir
}

// InitUnlock records unlockAt as the vault's unlock instant if none is
// recorded yet, and returns the recorded value. The instant never changes
// once written.
func (b *Backend) InitUnlock(ctx context.Context, unlockAt int64) (int64, error) {
	q, err := b.conn(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := q.ExecContext(ctx,
		"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)",
		metaUnlockAt, strconv.FormatInt(unlockAt, 10),
	); err != nil {
		return 0, fmt.Errorf("recording unlock instant: %w", err)
	}
	recorded, ok, err := b.UnlockAt(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: unlock instant missing after init", types.ErrConfiguration)
	}
	return recorded, nil
}

// UnlockAt returns the recorded unlock instant. ok is false if the vault
// has not been initialized.
func (b *Backend) UnlockAt(ctx context.Context) (unlockAt int64, ok bool, err error) {
	q, err := b.conn(ctx)
	if err != nil {
		return 0, false, err
	}
	return readUnlockAt(ctx, q)
}

func readUnlockAt(ctx context.Context, q querier) (int64, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaUnlockAt).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading unlock instant: %w", err)
	}
	v, err := parseUnlockAt(raw)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func parseUnlockAt(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: unlock instant %q", types.ErrConfiguration, raw)
	}
	return v, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txKey carries the claim transaction through collaborator calls.
type txKey struct{}

type boundTx struct {
	backend *Backend
	tx      *sql.Tx
}

// conn returns the transaction carried by ctx when it belongs to this
// backend, and the database handle otherwise.
func (b *Backend) conn(ctx context.Context) (querier, error) {
	if bt, ok := ctx.Value(txKey{}).(*boundTx); ok && bt.backend == b {
		return bt.tx, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	return b.db, nil
}

// withTx runs fn inside the transaction carried by ctx, or inside a new
// transaction committed when fn succeeds.
func (b *Backend) withTx(ctx context.Context, fn func(q querier) error) error {
	if bt, ok := ctx.Value(txKey{}).(*boundTx); ok && bt.backend == b {
		return fn(bt.tx)
	}
	tx, err := b.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (b *Backend) begin(ctx context.Context) (*sql.Tx, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}

// toInt64 converts an amount for storage; SQLite integers are signed.
func toInt64(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d exceeds storable range", types.ErrInvalidAmount, amount)
	}
	return int64(amount), nil
}
