package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keyvault/internal/sqlite"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

func newDepositCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Add newly issued value to the pool",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return a.withBackend(func(b *sqlite.Backend) error {
				ctx := cmd.Context()
				if err := b.Pool().Deposit(ctx, amount); err != nil {
					return err
				}
				bal, err := b.Pool().BalanceOf(ctx)
				if err != nil {
					return err
				}
				return a.emit(cmd,
					map[string]any{"deposited": amount, "balance": bal},
					fmt.Sprintf("deposited %d, pool balance %d", amount, bal),
				)
			})
		},
	}
}

func newFundCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <holder> <amount>",
		Short: "Issue value to a holder account",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder := types.Holder(args[0])
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return a.withBackend(func(b *sqlite.Backend) error {
				ctx := cmd.Context()
				if err := b.Pool().Mint(ctx, holder, amount); err != nil {
					return err
				}
				bal, err := b.Pool().HolderBalance(ctx, holder)
				if err != nil {
					return err
				}
				return a.emit(cmd,
					map[string]any{"holder": holder, "funded": amount, "balance": bal},
					fmt.Sprintf("funded %s with %d, balance %d", holder, amount, bal),
				)
			})
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <from> <to> <amount>",
		Short: "Move value between accounts; send to the pool name to top it up",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := types.Holder(args[0]), types.Holder(args[1])
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			return a.withBackend(func(b *sqlite.Backend) error {
				if err := b.Pool().Send(cmd.Context(), from, to, amount); err != nil {
					return err
				}
				return a.emit(cmd,
					map[string]any{"from": from, "to": to, "amount": amount},
					fmt.Sprintf("sent %d from %s to %s", amount, from, to),
				)
			})
		},
	}
}

func newMintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mint <holder> <count>",
		Short: "Issue new key units to a holder",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder := types.Holder(args[0])
			count, err := parseCount(args[1])
			if err != nil {
				return err
			}
			return a.withBackend(func(b *sqlite.Backend) error {
				ids, err := b.Keys().Mint(cmd.Context(), holder, count)
				if err != nil {
					return err
				}
				return a.emit(cmd,
					map[string]any{"holder": holder, "units": ids},
					fmt.Sprintf("minted units %v to %s", ids, holder),
				)
			})
		},
	}
}

func newGiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "give <from> <to> <unit>",
		Short: "Transfer a key unit to another holder",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := types.Holder(args[0]), types.Holder(args[1])
			unit, err := parseUnit(args[2])
			if err != nil {
				return err
			}
			return a.withBackend(func(b *sqlite.Backend) error {
				if err := b.Keys().TransferUnit(cmd.Context(), from, to, unit); err != nil {
					return err
				}
				return a.emit(cmd,
					map[string]any{"from": from, "to": to, "unit": unit},
					fmt.Sprintf("gave unit %d from %s to %s", unit, from, to),
				)
			})
		},
	}
}
