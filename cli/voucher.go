package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litevault-dev/litevault/store/sqlite"
	"github.com/litevault-dev/litevault/types"
)

func NewVoucher() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Manage vouchers",
	}
	cmd.AddCommand(newVoucherAdd())
	cmd.AddCommand(newVoucherList())
	return cmd
}

func newVoucherAdd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "add <number>",
		Short: "Record a voucher and mint its random tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number := args[0]
			if len(number) != types.VoucherNumberLength {
				return fmt.Errorf("voucher number must be %d characters", types.VoucherNumberLength)
			}

			st, err := sqlite.New(GetDatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()

			tokens, err := st.Vouchers().Add(cmd.Context(), number, count, func() []types.RandomToken {
				minted := make([]types.RandomToken, count)
				for i := range minted {
					raw := make([]byte, 96)
					rand.Read(raw)
					minted[i] = types.RandomToken{
						Token:   base64.StdEncoding.EncodeToString(raw),
						Voucher: number,
					}
				}
				return minted
			})
			if err != nil {
				return err
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("Voucher recorded with %d random tokens", len(tokens))))
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "tokens", 10, "Number of random tokens to mint")
	return cmd
}

func newVoucherList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known vouchers",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sqlite.New(GetDatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()

			vouchers, err := st.Vouchers().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(vouchers) == 0 {
				fmt.Println(subtitleStyle.Render("No vouchers"))
				return nil
			}
			for _, v := range vouchers {
				fmt.Printf("%s  %s  %s\n",
					capStyle.Render(v.Number),
					labelStyle.Render(string(v.State)),
					subtitleStyle.Render(v.Created.Format("2006-01-02 15:04:05")),
				)
			}
			return nil
		},
	}
}
