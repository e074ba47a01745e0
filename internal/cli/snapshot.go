package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keyvault/internal/sqlite"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Write a JSONL snapshot of the vault",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b *sqlite.Backend) error {
				if err := b.Export(cmd.Context(), args[0]); err != nil {
					return err
				}
				return a.emit(cmd, map[string]string{"exported": args[0]}, fmt.Sprintf("exported to %s", args[0]))
			})
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Replace the vault contents with a JSONL snapshot",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b *sqlite.Backend) error {
				if err := b.Restore(cmd.Context(), args[0]); err != nil {
					return err
				}
				return a.emit(cmd, map[string]string{"imported": args[0]}, fmt.Sprintf("imported from %s", args[0]))
			})
		},
	}
}
