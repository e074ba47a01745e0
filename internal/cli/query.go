package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keyvault/internal/sqlite"
	"github.com/mesh-intelligence/keyvault/internal/vault"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

type statusView struct {
	Pool        string      `json:"pool"`
	Registry    string      `json:"registry"`
	Balance     uint64      `json:"balance"`
	TotalSupply uint64      `json:"total_supply"`
	Claimed     int         `json:"claimed_units"`
	UnlockAt    time.Time   `json:"unlock_at"`
	Unlocked    bool        `json:"unlocked"`
	Holder      *holderView `json:"holder,omitempty"`
}

type holderView struct {
	Holder      types.Holder       `json:"holder"`
	Account     uint64             `json:"account_balance"`
	Units       []types.UnitID     `json:"units"`
	Unclaimed   []types.UnitID     `json:"unclaimed"`
	Entitlement *types.Entitlement `json:"entitlement,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [holder]",
		Short: "Show the pool, the unlock gate and optionally a holder's entitlement",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b *sqlite.Backend) error {
				ctx := cmd.Context()
				unlockAt, err := recordedUnlock(ctx, b)
				if err != nil {
					return err
				}
				clock, err := a.clock()
				if err != nil {
					return err
				}
				s := statusView{
					Pool:     b.Pool().Address(),
					Registry: b.Keys().Address(),
					UnlockAt: unlockAt,
					Unlocked: vault.NewTimeGate(unlockAt).IsUnlocked(clock.Now()),
				}
				if s.Balance, err = b.Pool().BalanceOf(ctx); err != nil {
					return err
				}
				if s.TotalSupply, err = b.Keys().TotalSupply(ctx); err != nil {
					return err
				}
				claimed, err := b.Claims().Claimed(ctx)
				if err != nil {
					return err
				}
				s.Claimed = len(claimed)

				if len(args) == 1 {
					if s.Holder, err = a.holderStatus(cmd, b, types.Holder(args[0]), s); err != nil {
						return err
					}
				}
				return a.emit(cmd, s, statusText(s))
			})
		},
	}
}

func (a *app) holderStatus(cmd *cobra.Command, b *sqlite.Backend, holder types.Holder, s statusView) (*holderView, error) {
	ctx := cmd.Context()
	h := &holderView{Holder: holder}
	var err error
	if h.Account, err = b.Pool().HolderBalance(ctx, holder); err != nil {
		return nil, err
	}
	if h.Units, err = b.Keys().UnitsOwnedBy(ctx, holder); err != nil {
		return nil, err
	}
	for _, u := range h.Units {
		claimed, err := b.Claims().IsClaimed(ctx, u)
		if err != nil {
			return nil, err
		}
		if !claimed {
			h.Unclaimed = append(h.Unclaimed, u)
		}
	}
	if !s.Unlocked || s.TotalSupply == 0 {
		return h, nil
	}
	e, err := a.engine(ctx, b)
	if err != nil {
		return nil, err
	}
	ent, err := e.Entitlement(ctx, holder)
	if err != nil {
		return nil, err
	}
	h.Entitlement = &ent
	return h, nil
}

func statusText(s statusView) string {
	var sb strings.Builder
	gate := "locked"
	if s.Unlocked {
		gate = "unlocked"
	}
	fmt.Fprintf(&sb, "pool %s: balance %d\n", s.Pool, s.Balance)
	fmt.Fprintf(&sb, "registry %s: %d units issued, %d claimed\n", s.Registry, s.TotalSupply, s.Claimed)
	fmt.Fprintf(&sb, "unlock at %s (%s)", s.UnlockAt.Format(time.RFC3339), gate)
	if h := s.Holder; h != nil {
		fmt.Fprintf(&sb, "\nholder %s: account %d, units %v, unclaimed %v", h.Holder, h.Account, h.Units, h.Unclaimed)
		if h.Entitlement != nil {
			fmt.Fprintf(&sb, ", entitled to %d", h.Entitlement.Amount)
		}
	}
	return sb.String()
}

func newClaimedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "claimed",
		Short: "List units that have been used to claim",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b *sqlite.Backend) error {
				units, err := b.Claims().Claimed(cmd.Context())
				if err != nil {
					return err
				}
				if units == nil {
					units = []types.UnitID{}
				}
				return a.emit(cmd, units, fmt.Sprintf("claimed units: %v", units))
			})
		},
	}
}

func newReceiptsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "receipts [holder]",
		Short: "List committed claim receipts",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var holder types.Holder
			if len(args) == 1 {
				holder = types.Holder(args[0])
			}
			return a.withBackend(func(b *sqlite.Backend) error {
				receipts, err := b.Claims().Receipts(cmd.Context(), holder)
				if err != nil {
					return err
				}
				if receipts == nil {
					receipts = []types.Receipt{}
				}
				lines := make([]string, 0, len(receipts))
				for _, r := range receipts {
					lines = append(lines, receiptText(r))
				}
				if len(lines) == 0 {
					lines = append(lines, "no receipts")
				}
				return a.emit(cmd, receipts, strings.Join(lines, "\n"))
			})
		},
	}
}
