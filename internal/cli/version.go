package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keyvault/pkg/vault"
)

const modulePath = "github.com/mesh-intelligence/keyvault"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the keyvault version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "keyvault v%s\nmodule: %s\n", vault.Version, modulePath)
			return nil
		},
	}
}
