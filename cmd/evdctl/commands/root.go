package commands

import (
	"github.com/spf13/cobra"

	"evdetect/internal/config"
	"evdetect/internal/repository/sqlite"
)

var (
	cfg    *config.Config
	dbPath string
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "evdctl",
		Short:         "Maintenance tool for the emergency vehicle detection server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			if dbPath == "" {
				dbPath = cfg.DatabasePath
			}
		},
	}

	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default DB_PATH)")

	root.AddCommand(importCmd(), statsCmd(), eventsCmd())
	return root
}

func openDB() (*sqlite.DB, error) {
	return sqlite.New(dbPath)
}
