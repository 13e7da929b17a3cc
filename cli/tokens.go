package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litevault-dev/litevault/store/sqlite"
)

func NewTokens() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect spendable tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Count spendable tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sqlite.New(GetDatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Tokens().CountUnblinded(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(infoStyle.Render(fmt.Sprintf("%d spendable tokens", n)))
			return nil
		},
	})
	return cmd
}
