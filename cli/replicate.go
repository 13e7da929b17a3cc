package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litevault-dev/litevault/pkg/replicate"
)

func NewReplicate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Manage replication of the vault database",
	}
	cmd.AddCommand(newReplicateSetup())
	cmd.AddCommand(newReplicateStatus())
	return cmd
}

func newReplicateSetup() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the remote replica directory",
		Long: `Creates a mutable directory in the object store, stores its write
capability under the private data directory, and prints the read
capability. Keep the read capability somewhere safe: it is what you
will need to recover the vault on a fresh host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			grid, err := openGrid(cmd.Context())
			if err != nil {
				return err
			}

			cfg := replicate.Config{PrivateDir: GetPrivateDir()}
			readCap, err := replicate.Setup(cmd.Context(), cfg, grid)
			if errors.Is(err, replicate.ErrReplicationAlreadySetup) {
				fmt.Println(errorStyle.Render("Replication is already set up"))
				return err
			}
			if err != nil {
				return err
			}

			fmt.Println(successStyle.Render("Replication configured"))
			fmt.Println()
			fmt.Println(labelStyle.Render("Recovery cap:"), capStyle.Render(readCap))
			fmt.Println(subtitleStyle.Render("Store this capability somewhere safe."))
			return nil
		},
	}
}

func newReplicateStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether replication is set up",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := replicate.Config{PrivateDir: GetPrivateDir()}
			if replicate.IsSetup(cfg) {
				fmt.Println(successStyle.Render("Replication is set up"))
			} else {
				fmt.Println(subtitleStyle.Render("Replication is not set up"))
			}
			return nil
		},
	}
}
