package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortunamind/persistgate/internal/config"
	"github.com/fortunamind/persistgate/internal/domain/identity"
)

var deriveCmd = &cobra.Command{
	Use:   "derive <email>",
	Short: "Derive the storage handle for an email",
	Long: `Derive prints the anonymous storage handle for an email address
under the configured identity namespace.

Handles are deterministic, so this is how operators find a user's rows
for support queries without storing the email anywhere.`,
	RunE: runDerive,
	Args: cobra.ExactArgs(1),
}

func init() {
	rootCmd.AddCommand(deriveCmd)
}

func runDerive(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	deriver := identity.NewDeriver(cfg.Identity.Namespace)
	handle, err := deriver.DeriveHandle(args[0])
	if err != nil {
		return err
	}
	fmt.Println(handle)
	return nil
}
