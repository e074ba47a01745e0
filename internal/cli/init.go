package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/keyvault/internal/paths"
	"github.com/mesh-intelligence/keyvault/internal/sqlite"
)

func newInitCmd(a *app) *cobra.Command {
	var unlockAt string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the vault",
		Long: "Create the configuration and data directories, then record the unlock instant.\n" +
			"The unlock instant comes from --unlock-at or unlock_at in config.yaml and never\n" +
			"changes once recorded.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if unlockAt != "" {
				t, err := parseInstant(unlockAt)
				if err != nil {
					return err
				}
				a.cfg.UnlockAt = t.Unix()
			}
			if a.cfg.UnlockAt <= 0 {
				return fmt.Errorf("%w: an unlock instant is required (--unlock-at or unlock_at in config.yaml)", errUsage)
			}

			configDir, err := paths.ResolveConfigDir(a.configDir)
			if err != nil {
				return err
			}
			wrote, err := writeConfigIfMissing(configDir, a.cfg)
			if err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if wrote {
				a.log.Debug("config written", zap.String("dir", configDir))
			}

			return a.withBackend(func(b *sqlite.Backend) error {
				recorded, err := b.InitUnlock(cmd.Context(), a.cfg.UnlockAt)
				if err != nil {
					return err
				}
				if recorded != a.cfg.UnlockAt {
					a.log.Warn("vault already initialized with a different unlock instant",
						zap.Int64("requested", a.cfg.UnlockAt),
						zap.Int64("recorded", recorded),
					)
				}
				at := time.Unix(recorded, 0).UTC()
				return a.emit(cmd,
					map[string]any{"data_dir": b.DataDir(), "unlock_at": at},
					fmt.Sprintf("vault initialized at %s, unlocks at %s", b.DataDir(), at.Format(time.RFC3339)),
				)
			})
		},
	}
	cmd.Flags().StringVar(&unlockAt, "unlock-at", "", "unlock instant (RFC 3339 or Unix seconds)")
	return cmd
}
