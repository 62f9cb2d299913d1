package main

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/codeframe-backend/internal/data/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := db.AutoMigrateAll(a.DB); err != nil {
		return err
	}
	a.Log.Info("Migration complete")
	return nil
}
