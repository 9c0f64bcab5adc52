package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dropdbCmd = &cobra.Command{
	Use:   "dropdb",
	Short: "Delete the local database",
	RunE:  runDropdb,
}

func init() {
	rootCmd.AddCommand(dropdbCmd)
}

func runDropdb(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf(
			"dropdb only supports the sqlite driver (configured: %s)",
			cfg.Database.Driver)
	}

	path := cfg.Database.SQLite.Path
	if path == ":memory:" {
		return nil
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Info("No database to delete")
			return nil
		}

		return fmt.Errorf("deleting database: %w", err)
	}

	log.WithField("path", path).Info("Deleted database")

	return nil
}
