package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keyvault/internal/sqlite"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

func newClaimCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <holder> <unit>",
		Short: "Claim the pool share of one unit",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder := types.Holder(args[0])
			unit, err := parseUnit(args[1])
			if err != nil {
				return err
			}
			return a.withBackend(func(b *sqlite.Backend) error {
				e, err := a.engine(cmd.Context(), b)
				if err != nil {
					return err
				}
				r, err := e.Claim(cmd.Context(), holder, unit)
				if err != nil {
					return err
				}
				return a.emit(cmd, r, receiptText(r))
			})
		},
	}
}

func newClaimAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "claim-all <holder>",
		Short: "Claim the pool share of every unclaimed unit the holder owns",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder := types.Holder(args[0])
			return a.withBackend(func(b *sqlite.Backend) error {
				e, err := a.engine(cmd.Context(), b)
				if err != nil {
					return err
				}
				r, err := e.ClaimAll(cmd.Context(), holder)
				if err != nil {
					return err
				}
				return a.emit(cmd, r, receiptText(r))
			})
		},
	}
}
