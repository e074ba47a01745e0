package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keyvault/internal/sqlite"
	"github.com/mesh-intelligence/keyvault/internal/vault"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

// attachBackend creates a SQLite backend on the configured data directory
// and attaches it. The caller must defer backend.Detach().
func (a *app) attachBackend() (*sqlite.Backend, error) {
	b := sqlite.NewBackend(sqlite.WithLogger(a.log))
	if err := b.Attach(a.cfg); err != nil {
		return nil, fmt.Errorf("attaching backend at %s: %w", a.cfg.DataDir, err)
	}
	return b, nil
}

// withBackend attaches the backend for the duration of fn.
func (a *app) withBackend(fn func(b *sqlite.Backend) error) (err error) {
	b, err := a.attachBackend()
	if err != nil {
		return err
	}
	defer func() {
		if derr := b.Detach(); derr != nil && err == nil {
			err = fmt.Errorf("detaching backend: %w", derr)
		}
	}()
	return fn(b)
}

// recordedUnlock returns the unlock instant stored by init.
func recordedUnlock(ctx context.Context, b *sqlite.Backend) (time.Time, error) {
	secs, ok, err := b.UnlockAt(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errNotInitialized
	}
	return time.Unix(secs, 0).UTC(), nil
}

// engine builds a claim engine over b using the recorded unlock instant.
func (a *app) engine(ctx context.Context, b *sqlite.Backend) (*vault.Engine, error) {
	unlockAt, err := recordedUnlock(ctx, b)
	if err != nil {
		return nil, err
	}
	clock, err := a.clock()
	if err != nil {
		return nil, err
	}
	return vault.New(ctx, vault.Options{
		Store:    b.Store(),
		Oracle:   b.Oracle(),
		Ledger:   b.Ledger(),
		UnlockAt: unlockAt,
		Clock:    clock,
		Logger:   a.log,
	})
}

// emit writes v as indented JSON in --json mode, and text otherwise.
func (a *app) emit(cmd *cobra.Command, v any, text string) error {
	out := cmd.OutOrStdout()
	if !a.jsonMode {
		_, err := fmt.Fprintln(out, text)
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// receiptText renders a receipt for text output.
func receiptText(r types.Receipt) string {
	return fmt.Sprintf("claim %s: paid %d to %s for units %v (balance %d, supply %d)",
		r.ClaimID, r.Amount, r.Holder, r.Units, r.Balance, r.TotalSupply)
}
