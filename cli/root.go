package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	dataDir      string
	databasePath string
	s3Bucket     string
)

func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "litevault",
		Short: "litevault - voucher vault with replicated SQLite state",
		Long: `litevault is a voucher and token vault whose SQLite database
replicates itself to remote object storage, so the vault can be
rebuilt on a fresh host from the latest snapshot plus the event
streams recorded since.

Get started:
  litevault init              Initialize the database
  litevault serve             Start the web server
  litevault replicate setup   Create the remote replica directory`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	home, _ := os.UserHomeDir()
	dataDir = filepath.Join(home, "data", "litevault")
	databasePath = filepath.Join(dataDir, "vault.db")

	root.Version = Version
	root.PersistentFlags().StringVar(&dataDir, "data", dataDir, "Data directory")
	root.PersistentFlags().StringVar(&databasePath, "database", databasePath, "Database path")
	root.PersistentFlags().StringVar(&s3Bucket, "bucket", "", "S3 bucket for the remote replica (in-memory grid when empty)")

	root.AddCommand(NewServe())
	root.AddCommand(NewInit())
	root.AddCommand(NewVoucher())
	root.AddCommand(NewTokens())
	root.AddCommand(NewReplicate())
	root.AddCommand(NewSnapshot())
	root.AddCommand(NewRecover())

	return root.ExecuteContext(ctx)
}

// GetDatabasePath returns the resolved database path.
func GetDatabasePath() string { return databasePath }

// GetPrivateDir returns the directory for node-private state such as
// the replica capability file.
func GetPrivateDir() string { return filepath.Join(dataDir, "private") }
