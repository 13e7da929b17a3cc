package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/litevault-dev/litevault/store/sqlite"
)

func NewSnapshot() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a framed snapshot of the database to a file",
		Long: `Dumps the whole database as a netstring-framed sequence of SQL
statements, the same format the replication service uploads. Useful
for offline backups and for inspecting what a replica contains.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(GetDatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			blob, err := store.Connection().Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("snapshot failed: %w", err)
			}
			if err := os.WriteFile(out, blob, 0600); err != nil {
				return err
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("Wrote %d bytes to %s", len(blob), out)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "snapshot.bin", "Output file")
	return cmd
}
