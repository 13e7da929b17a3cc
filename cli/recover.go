package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litevault-dev/litevault/pkg/repdb"
	"github.com/litevault-dev/litevault/pkg/replicate"
	"github.com/litevault-dev/litevault/store"
	"github.com/litevault-dev/litevault/store/sqlite"
)

func NewRecover() *cobra.Command {
	var readCap string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Rebuild the database from a remote replica",
		Long: `Downloads the latest snapshot and any newer event streams from the
replica directory and replays them into the local database. Refuses
to run if the database already holds vouchers or tokens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Banner())
			if readCap == "" {
				return fmt.Errorf("--cap is required")
			}

			grid, err := openGrid(cmd.Context())
			if err != nil {
				return err
			}

			st, err := sqlite.New(GetDatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Ensure(cmd.Context()); err != nil {
				return err
			}

			recoverer := replicate.NewStatefulRecoverer()
			download := replicate.NewReplicaDownloader(grid, readCap)

			fmt.Println(infoStyle.Render("Recovering replica..."))
			err = st.CallIfEmpty(cmd.Context(), func(cur *repdb.Cursor) error {
				return recoverer.RecoverTx(cmd.Context(), download, cur)
			})
			switch {
			case errors.Is(err, store.ErrNotEmpty):
				fmt.Println(errorStyle.Render("The database already holds vouchers or tokens; refusing to recover"))
				return err
			case err != nil && !errors.Is(err, replicate.ErrRecoveryFailed):
				return err
			}

			state := recoverer.State()
			if state.Stage == replicate.StageSucceeded {
				fmt.Println(successStyle.Render("Recovery succeeded"))
				return nil
			}
			fmt.Println(errorStyle.Render(fmt.Sprintf("Recovery failed (%s): %s", state.Stage, state.FailureReason)))
			return fmt.Errorf("recovery ended in stage %s", state.Stage)
		},
	}

	cmd.Flags().StringVar(&readCap, "cap", "", "Replica read capability from 'replicate setup'")
	return cmd
}
